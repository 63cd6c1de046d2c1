package server

import (
	"fmt"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	UseFilteredDriverLogger()
	os.Exit(m.Run())
}

func TestIntegration(t *testing.T) {
	for _, image := range TestImages(t) {
		manager, err := NewDockerClient()
		if err != nil {
			t.Fatalf("unable to create docker client: %v", err)
		}
		suite := &instanceIntegrationSuite{manager: manager, image: image}
		RunSuite(t, suite, SuiteOptions(image))
	}
}

type instanceIntegrationSuite struct {
	manager *DockerClient
	image   string
	d       *DockerizedInstance
}

func (s *instanceIntegrationSuite) BeforeTest(t *testing.T) {
	var err error
	s.d, err = s.manager.GetOrCreateInstance(DockerizedInstanceOptions{
		Name:              fmt.Sprintf("mydump-test-%s", containerNameForImage(s.image)),
		Image:             s.image,
		RootPassword:      "fakepw",
		DefaultConnParams: "sql_log_bin=0",
	})
	if err != nil {
		t.Fatalf("unable to obtain containerized instance for %s: %v", s.image, err)
	}
	if err := s.d.NukeData(); err != nil {
		t.Fatalf("unable to clean up containerized instance: %v", err)
	}
	t.Cleanup(func() { s.d.Done(t) })
}

func (s *instanceIntegrationSuite) TestFlavorDetection(t *testing.T) {
	fl := s.d.Instance.Flavor()
	if !fl.Known() {
		t.Errorf("expected a known flavor for image %s, found %s", s.image, fl)
	}
}

func (s *instanceIntegrationSuite) TestSchemaNames(t *testing.T) {
	db, err := s.d.Instance.CachedConnectionPool("", "")
	if err != nil {
		t.Fatalf("unable to connect: %v", err)
	}
	if _, err := db.Exec("CREATE DATABASE mydump_test_schema"); err != nil {
		t.Fatalf("unable to create test schema: %v", err)
	}
	names, err := s.d.Instance.SchemaNames()
	if err != nil {
		t.Fatalf("SchemaNames returned unexpected error: %v", err)
	}
	var found bool
	for _, n := range names {
		if n == "mydump_test_schema" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected mydump_test_schema in %v", names)
	}
}

func (s *instanceIntegrationSuite) TestProcessList(t *testing.T) {
	plist, err := s.d.Instance.ProcessList()
	if err != nil {
		t.Fatalf("ProcessList returned unexpected error: %v", err)
	}
	if len(plist) == 0 {
		t.Error("expected at least one connection in process list (this test's own connection)")
	}
}

func containerNameForImage(image string) string {
	out := make([]byte, 0, len(image))
	for _, r := range image {
		if r == ':' || r == '/' {
			out = append(out, '-')
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
