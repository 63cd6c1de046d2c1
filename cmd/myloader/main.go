// Command myloader is the restore-side CLI front-end: it registers the
// restore option surface with mybase, builds a loadcore.Options from the
// parsed Config, and runs one restore, mirroring cmd/mydumper's
// structure.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/skeema/mybase"
	terminal "golang.org/x/term"

	"github.com/skeema/mydump/internal/exitcode"
	"github.com/skeema/mydump/internal/loadcore"
	"github.com/skeema/mydump/internal/logging"
	"github.com/skeema/mydump/internal/server"
	"github.com/skeema/mydump/internal/telemetry"
)

const version = "1.0"

func main() {
	cmd := mybase.NewCommand("myloader", version, "myloader restores a mydumper-format logical dump into a MySQL-family server.", runLoad)
	addOptions(cmd)

	cfg, err := mybase.ParseCLI(cmd, os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.BadUsage)
	}

	if !cfg.Supplied("password") {
		if val := os.Getenv("MYSQL_PWD"); val != "" {
			cfg.SetRuntimeOverride("password", val)
		}
	} else if cfg.Get("password") == "" {
		pass, err := promptPassword()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitcode.BadInput)
		}
		cfg.SetRuntimeOverride("password", pass)
	}

	if err := cfg.HandleCommand(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.Of(err))
	}
}

func addOptions(cmd *mybase.Command) {
	cmd.AddOption(mybase.StringOption("host", 0, "127.0.0.1", "Database hostname or IP address"))
	cmd.AddOption(mybase.StringOption("port", 0, "3306", "Port to use for database host"))
	cmd.AddOption(mybase.StringOption("socket", 'S', "", "Absolute path to UNIX socket file; overrides host/port"))
	cmd.AddOption(mybase.StringOption("user", 'u', "root", "Username to connect to database host"))
	cmd.AddOption(mybase.StringOption("password", 'p', "<no password>", "Password for database user; supply with no value to prompt").ValueOptional())

	cmd.AddOption(mybase.StringOption("directory", 'd', "./dump", "Directory holding (or to write, under --stream) a mydumper-format dump"))
	cmd.AddOption(mybase.StringOption("threads", 't', "4", "Number of parallel restore worker threads"))
	cmd.AddOption(mybase.BoolOption("no-data", 0, false, "Skip restoring row data; structure only"))
	cmd.AddOption(mybase.BoolOption("skip-triggers", 0, false, "Skip restoring triggers"))
	cmd.AddOption(mybase.BoolOption("skip-post", 0, false, "Skip restoring post-schema objects (routines, events, ...)"))
	cmd.AddOption(mybase.StringOption("exec", 0, "", "Shell command to run on each restored file; {PATH}/{DATABASE}/{TABLE} are substituted"))
	cmd.AddOption(mybase.BoolOption("stream", 0, false, "Read a single framed stream from stdin instead of files under --directory"))

	cmd.AddOption(mybase.BoolOption("debug", 0, false, "Enable debug logging"))
	cmd.AddOption(mybase.StringOption("metrics-listen", 0, "", "Address to serve Prometheus metrics on (e.g. :9105); disabled if blank"))
}

func promptPassword() (string, error) {
	fd := int(syscall.Stdin)
	if !terminal.IsTerminal(fd) {
		return "", errors.New("stdin must be a TTY to read password")
	}
	fmt.Fprint(os.Stderr, "Enter password: ")
	bytePassword, err := terminal.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func passwordValue(cfg *mybase.Config) string {
	if v := cfg.Get("password"); v != "<no password>" {
		return v
	}
	return ""
}

func runLoad(cfg *mybase.Config) error {
	level := logrus.InfoLevel
	if cfg.GetBool("debug") {
		level = logrus.DebugLevel
	}
	log := logging.New(level)

	connOpts := server.ConnectOptions{
		Host:       cfg.Get("host"),
		Port:       cfg.GetIntOrDefault("port"),
		SocketPath: cfg.Get("socket"),
		User:       cfg.Get("user"),
		Password:   passwordValue(cfg),
	}
	instance, err := server.NewInstance(connOpts.DSN())
	if err != nil {
		return exitcode.Wrap(exitcode.BadConfig, fmt.Errorf("connecting to %s: %w", connOpts.Host, err))
	}

	opts := loadcore.Options{
		InputDir:     cfg.Get("directory"),
		Threads:      cfg.GetIntOrDefault("threads"),
		NoData:       cfg.GetBool("no-data"),
		SkipTriggers: cfg.GetBool("skip-triggers"),
		SkipPost:     cfg.GetBool("skip-post"),
		ExecCmd:      cfg.Get("exec"),
		Stream:       cfg.GetBool("stream"),
		Log:          log,
	}

	if !opts.Stream {
		if err := os.MkdirAll(opts.InputDir, 0755); err != nil {
			return exitcode.Wrap(exitcode.BadConfig, err)
		}
	}

	if addr := cfg.Get("metrics-listen"); addr != "" {
		prom := telemetry.NewPrometheus(nil)
		opts.Telemetry = prom
		serveMetrics(log, addr, prom.Registry())
	} else {
		opts.Telemetry = telemetry.Null{}
	}

	if err := loadcore.Run(context.Background(), instance, opts); err != nil {
		return exitcode.Wrap(exitcode.CoreErrors, err)
	}
	return nil
}

// serveMetrics starts a background HTTP server exposing reg on /metrics,
// logging (but not failing the run on) a listen error.
func serveMetrics(log *logrus.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warnf("metrics listener on %s stopped: %v", addr, err)
		}
	}()
}
