package server

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime/debug"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

// This file contains public functions and structs designed to make
// Docker-based integration testing easier, for round-tripping a dump
// through a real MySQL/MariaDB/Percona server and back.

// BeforeTester is an optional interface implemented by a suite of test
// methods.
type BeforeTester interface {
	BeforeTest(t *testing.T)
}

// RunSuiteOptions controls optional behaviors of RunSuite.
type RunSuiteOptions struct {
	// Suffix appends a string to the name of each subtest, e.g. to
	// differentiate between runs using different database flavors.
	Suffix string

	// BufferOutput controls whether STDOUT, STDERR, and logging output are
	// captured into a buffer, only displayed if a test fails or is skipped.
	// If enabled, parallel tests must not be used.
	BufferOutput bool
}

// RunSuite runs all TestFoo(t *testing.T) methods in the supplied suite as
// subtests. If the suite implements BeforeTester, BeforeTest runs at the
// start of each subtest. Panics are caught and fail just that subtest.
func RunSuite(t *testing.T, suite any, opts RunSuiteOptions) {
	var suiteName, suffix string
	suiteType := reflect.TypeOf(suite)
	suiteVal := reflect.ValueOf(suite)
	if suiteVal.Kind() == reflect.Ptr {
		suiteName = suiteVal.Elem().Type().Name()
	} else {
		suiteName = suiteType.Name()
	}
	if opts.Suffix != "" {
		suffix = ":" + opts.Suffix
	}
	beforeTester, hasBeforeTest := suite.(BeforeTester)

	for n := range suiteType.NumMethod() {
		method := suiteType.Method(n)
		if strings.HasPrefix(method.Name, "Test") {
			t.Run(suiteName+"."+method.Name+suffix, func(subt *testing.T) {
				defer func() {
					if r := recover(); r != nil {
						os.Stderr.WriteString(fmt.Sprintf("panic: %v [recovered]\n\n", r))
						os.Stderr.Write(debug.Stack())
						subt.Fail()
					}
				}()
				if opts.BufferOutput {
					bufferTestOutput(subt)
				}
				if hasBeforeTest {
					beforeTester.BeforeTest(subt)
				}
				method.Func.Call([]reflect.Value{reflect.ValueOf(suite), reflect.ValueOf(subt)})
			})
		}
	}
}

func bufferTestOutput(t *testing.T) {
	t.Helper()
	realOut, realErr := os.Stdout, os.Stderr
	realLogOutput := log.StandardLogger().Out
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("unexpected error from os.Pipe: %v", err)
	}
	os.Stdout = w
	os.Stderr = w
	log.SetOutput(w)
	var b bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(&b, r)
		r.Close()
		close(done)
	}()
	t.Cleanup(func() {
		w.Close()
		<-done
		os.Stdout = realOut
		os.Stderr = realErr
		log.SetOutput(realLogOutput)
		if t.Failed() || t.Skipped() {
			os.Stderr.Write(b.Bytes())
		}
	})
}

// SuiteOptions returns RunSuiteOptions based on the supplied image name
// (used as subtest naming suffix) and the MYDUMP_TEST_VERBOSE env var
// (disables output buffering if set).
func SuiteOptions(image string) RunSuiteOptions {
	verboseEnv := strings.ToLower(os.Getenv("MYDUMP_TEST_VERBOSE"))
	return RunSuiteOptions{
		Suffix:       image,
		BufferOutput: verboseEnv == "" || verboseEnv == "0" || verboseEnv == "false",
	}
}

// TestImages examines the MYDUMP_TEST_IMAGES env variable (a comma
// separated list of Docker images) and returns it split into a slice. If
// unset, the test is skipped, since the majority of this package's
// coverage requires a real server to dump from and load into.
func TestImages(t *testing.T) []string {
	t.Helper()
	envString := strings.TrimSpace(os.Getenv("MYDUMP_TEST_IMAGES"))
	if envString == "" {
		fmt.Println("MYDUMP_TEST_IMAGES env var is not set, so integration tests will be skipped.")
		fmt.Println(`Set it to a comma-separated list of Docker images, e.g.:`)
		fmt.Println(`$ MYDUMP_TEST_IMAGES="mysql:8.0,mariadb:10.11" go test ./...`)
		t.SkipNow()
	}
	return strings.Split(envString, ",")
}

// Done cleans up a container used in integration testing, depending on the
// MYDUMP_TEST_CLEANUP env variable:
//   - "stop": the container is stopped but not removed.
//   - "none": no action is taken; the container keeps running.
//   - anything else (the default): the container is destroyed, but only if
//     its name begins with "mydump-test-".
func (di *DockerizedInstance) Done(t *testing.T) {
	action := strings.TrimSpace(os.Getenv("MYDUMP_TEST_CLEANUP"))
	var err error
	if strings.EqualFold(action, "stop") {
		err = di.Stop()
	} else if !strings.EqualFold(action, "none") && strings.HasPrefix(di.Name, "mydump-test-") {
		err = di.Destroy()
	}
	if err != nil {
		t.Fatalf("unable to clean up test container %s: %v", di, err)
	}
}
