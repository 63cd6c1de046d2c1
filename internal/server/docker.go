package server

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/go-sql-driver/mysql"
)

// DockerClient manages the lifecycle of local Docker containers used as
// sandbox database instances for integration tests: a real MySQL/MariaDB/
// Percona server to dump from and load into, rather than a mock.
type DockerClient struct {
	client *docker.Client
}

// NewDockerClient is a constructor for DockerClient, using Docker
// connection settings from the environment (DOCKER_HOST etc).
func NewDockerClient() (*DockerClient, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, err
	}
	return &DockerClient{client: client}, nil
}

// DockerizedInstanceOptions specifies options for creating or finding a
// sandboxed database instance inside a Docker container.
type DockerizedInstanceOptions struct {
	Name              string
	Image             string // e.g. "mysql:8.0", "percona:5.7", "mariadb:10.5"
	RootPassword      string
	DefaultConnParams string
}

// CreateInstance creates a Docker container running opts.Image (pulling it
// if not already present locally), starts it, and waits for the
// containerized server to accept connections.
func (dc *DockerClient) CreateInstance(opts DockerizedInstanceOptions) (*DockerizedInstance, error) {
	if opts.Image == "" {
		return nil, errors.New("CreateInstance: image cannot be empty string")
	}

	tokens := strings.SplitN(opts.Image, ":", 2)
	repository := tokens[0]
	tag := "latest"
	if len(tokens) > 1 {
		tag = tokens[1]
	}

	if _, err := dc.client.InspectImage(opts.Image); err != nil {
		pullOpts := docker.PullImageOptions{Repository: repository, Tag: tag}
		if err := dc.client.PullImage(pullOpts, docker.AuthConfiguration{}); err != nil {
			return nil, err
		}
	}

	var env []string
	if opts.RootPassword == "" {
		env = append(env, "MYSQL_ALLOW_EMPTY_PASSWORD=1")
	} else {
		env = append(env, fmt.Sprintf("MYSQL_ROOT_PASSWORD=%s", opts.RootPassword))
	}
	ccopts := docker.CreateContainerOptions{
		Name: opts.Name,
		Config: &docker.Config{
			Image: opts.Image,
			Env:   env,
		},
		HostConfig: &docker.HostConfig{
			PortBindings: map[docker.Port][]docker.PortBinding{
				"3306/tcp": {{HostIP: "127.0.0.1"}},
			},
		},
	}
	di := &DockerizedInstance{DockerizedInstanceOptions: opts, Manager: dc}
	var err error
	if di.container, err = dc.client.CreateContainer(ccopts); err != nil {
		return nil, err
	} else if err = di.Start(); err != nil {
		return di, err
	}
	if err := di.TryConnect(); err != nil {
		return di, err
	}
	return di, nil
}

// GetInstance finds an existing container named opts.Name, starting it if
// necessary, and establishes a connection pool.
func (dc *DockerClient) GetInstance(opts DockerizedInstanceOptions) (*DockerizedInstance, error) {
	di := &DockerizedInstance{Manager: dc, DockerizedInstanceOptions: opts}
	var err error
	if di.container, err = dc.client.InspectContainer(opts.Name); err != nil {
		return nil, err
	}
	if err = di.Start(); err != nil {
		return nil, err
	}
	if err = di.TryConnect(); err != nil {
		return nil, err
	}
	return di, nil
}

// GetOrCreateInstance fetches an existing container named opts.Name, or
// creates a new one if none exists.
func (dc *DockerClient) GetOrCreateInstance(opts DockerizedInstanceOptions) (*DockerizedInstance, error) {
	di, err := dc.GetInstance(opts)
	if err == nil {
		return di, nil
	} else if _, ok := err.(*docker.NoSuchContainer); ok {
		return dc.CreateInstance(opts)
	}
	return nil, err
}

// DockerizedInstance is a database instance running in a local Docker
// container, used as a real source/target pair for round-trip dump-then-
// load integration tests.
type DockerizedInstance struct {
	*Instance
	DockerizedInstanceOptions
	Manager   *DockerClient
	container *docker.Container
}

// Start starts the containerized server if not already running.
func (di *DockerizedInstance) Start() error {
	err := di.Manager.client.StartContainer(di.container.ID, nil)
	if _, ok := err.(*docker.ContainerAlreadyRunning); err == nil || ok {
		di.container, err = di.Manager.client.InspectContainer(di.container.ID)
	}
	return err
}

// Stop halts the containerized server without destroying the container.
func (di *DockerizedInstance) Stop() error {
	err := di.Manager.client.StopContainer(di.container.ID, 10)
	if _, ok := err.(*docker.ContainerNotRunning); !ok && err != nil {
		return err
	}
	return nil
}

// Destroy stops and removes the container and its volumes.
func (di *DockerizedInstance) Destroy() error {
	err := di.Manager.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            di.container.ID,
		Force:         true,
		RemoveVolumes: true,
	})
	if _, ok := err.(*docker.NoSuchContainer); ok {
		err = nil
	}
	return err
}

// TryConnect establishes a connection pool to the containerized server and
// polls until it accepts connections or 30 seconds elapse.
func (di *DockerizedInstance) TryConnect() (err error) {
	di.Instance, err = NewInstance(di.DSN())
	if err != nil {
		return err
	}
	for attempts := 0; attempts < 120; attempts++ {
		if ok, connErr := di.Instance.Valid(); ok {
			return nil
		} else {
			err = connErr
		}
		time.Sleep(250 * time.Millisecond)
	}
	return err
}

// Port returns the host port mapped to the container's internal 3306.
func (di *DockerizedInstance) Port() int {
	portBindings, ok := di.container.NetworkSettings.Ports[docker.Port("3306/tcp")]
	if !ok || len(portBindings) == 0 {
		return 0
	}
	result, _ := strconv.Atoi(portBindings[0].HostPort)
	return result
}

// DSN returns a go-sql-driver/mysql formatted DSN for the container.
func (di *DockerizedInstance) DSN() string {
	var pass string
	if di.RootPassword != "" {
		pass = fmt.Sprintf(":%s", di.RootPassword)
	}
	return fmt.Sprintf("root%s@tcp(127.0.0.1:%d)/?%s", pass, di.Port(), di.DefaultConnParams)
}

func (di *DockerizedInstance) String() string {
	return fmt.Sprintf("DockerizedInstance:%d", di.Port())
}

// NukeData drops all non-system schemas, leaving a clean instance for the
// next test's dump/load round trip.
func (di *DockerizedInstance) NukeData() error {
	schemas, err := di.Instance.SchemaNames()
	if err != nil {
		return err
	}
	db, err := di.Instance.CachedConnectionPool("", "")
	if err != nil {
		return err
	}
	for _, schema := range schemas {
		if _, err := db.Exec("DROP DATABASE " + EscapeIdentifier(schema)); err != nil {
			return err
		}
	}
	return nil
}

// SourceSQL executes the SQL file at filePath against the containerized
// server via the container's own mysql client, for fixture setup.
func (di *DockerizedInstance) SourceSQL(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("SourceSQL %s: unable to open %s: %w", di, filePath, err)
	}
	defer f.Close()

	cmd := []string{"mysql", "-tvvv", "-u", "root"}
	if di.RootPassword != "" {
		cmd = append(cmd, fmt.Sprintf("-p%s", di.RootPassword))
	}
	exec, err := di.Manager.client.CreateExec(docker.CreateExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Cmd:          cmd,
		Container:    di.container.ID,
	})
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	if err = di.Manager.client.StartExec(exec.ID, docker.StartExecOptions{
		OutputStream: &stdout,
		ErrorStream:  &stderr,
		InputStream:  f,
	}); err != nil {
		return "", err
	}
	stderrStr := strings.Replace(stderr.String(), "Warning: Using a password on the command line interface can be insecure.\n", "", 1)
	if strings.Contains(stderrStr, "ERROR") {
		return stdout.String(), fmt.Errorf("SourceSQL %s: error sourcing %s: %s", di, filePath, stderrStr)
	}
	return stdout.String(), nil
}

type filteredLogger struct {
	logger *log.Logger
}

func (fl filteredLogger) Print(v ...interface{}) {
	if len(v) > 0 {
		if err, ok := v[0].(error); ok && err.Error() == "unexpected EOF" {
			return
		}
	}
	fl.logger.Print(v...)
}

// UseFilteredDriverLogger suppresses the mysql driver's "unexpected EOF"
// logging, which fires repeatedly while polling a container that hasn't
// finished starting yet.
func UseFilteredDriverLogger() {
	mysql.SetLogger(filteredLogger{logger: log.New(os.Stderr, "[mysql] ", log.Ldate|log.Ltime|log.Lshortfile)})
}
