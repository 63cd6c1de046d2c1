// Command mydumper is the dump-side CLI front-end: it registers the
// command's option surface with mybase, builds a dumpcore.Options from
// the parsed Config, and runs one dump.
//
// Structured as a mybase.Command whose Handler does the real work, with
// an exit code translated through a Coder and a password prompt when -p
// is supplied with no value.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/skeema/mybase"
	terminal "golang.org/x/term"

	"github.com/skeema/mydump/internal/compress"
	"github.com/skeema/mydump/internal/dumpcore"
	"github.com/skeema/mydump/internal/exitcode"
	"github.com/skeema/mydump/internal/filter"
	"github.com/skeema/mydump/internal/logging"
	"github.com/skeema/mydump/internal/server"
	"github.com/skeema/mydump/internal/telemetry"
)

const version = "1.0"

func main() {
	cmd := mybase.NewCommand("mydumper", version, "mydumper exports a consistent logical snapshot of a MySQL-family server to disk.", runDump)
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

	cmd.AddOption(mybase.StringOption("outputdir", 'o', "./dump", "Directory to write dump files into"))
	cmd.AddOption(mybase.StringOption("threads", 't', "4", "Number of parallel worker threads"))
	cmd.AddOption(mybase.StringOption("compress", 0, "", `Output compression codec: "gzip", "zstd", or blank for none`))
	cmd.AddOption(mybase.StringOption("rows", 'r', "0", "Rows per INSERT statement; 0 for unlimited"))

	cmd.AddOption(mybase.StringOption("long-query-guard", 0, "60", "Seconds a query may run before it blocks lock acquisition"))
	cmd.AddOption(mybase.StringOption("long-query-retries", 0, "0", "Times to retry the long-query guard before giving up; 0 uses the default of 10"))
	cmd.AddOption(mybase.StringOption("long-query-retry-interval", 0, "1", "Seconds to wait between long-query guard retries"))
	cmd.AddOption(mybase.BoolOption("kill-long-queries", 0, false, "Kill queries that exceed the long-query guard threshold instead of waiting"))

	cmd.AddOption(mybase.StringOption("tidb-snapshot", 0, "", "TiDB snapshot timestamp each worker session sets as tidb_snapshot; lock acquisition is unchanged"))
	cmd.AddOption(mybase.StringOption("updated-since", 0, "", "Only dump tables whose UPDATE_TIME is within this many days"))
	cmd.AddOption(mybase.BoolOption("no-locks", 0, false, "Skip all locking; only safe against an idle or already-consistent source"))
	cmd.AddOption(mybase.BoolOption("lock-all-tables", 0, false, "Use LOCK TABLES instead of FTWRL/backup locks"))
	cmd.AddOption(mybase.BoolOption("no-backup-locks", 0, false, "Do not attempt a vendor backup lock; fall straight to FTWRL or LOCK-ALL"))
	cmd.AddOption(mybase.BoolOption("less-locking", 0, false, "Dump non-transactional tables with brief per-table locks instead of holding the global lock"))
	cmd.AddOption(mybase.BoolOption("trx-consistency-only", 0, false, "Release the global lock as soon as every transactional session has its snapshot"))

	cmd.AddOption(mybase.BoolOption("no-schemas", 0, false, "Skip the per-database CREATE DATABASE files when dumping by database; table and view DDL is still written"))
	cmd.AddOption(mybase.BoolOption("all-tablespaces", 0, false, "Also dump InnoDB tablespace metadata"))
	cmd.AddOption(mybase.StringOption("set-names", 0, "", "Character set for the SET NAMES statement written to each worker connection"))

	cmd.AddOption(mybase.StringOption("database", 'B', "", "Comma-separated list of databases to dump; default is all databases"))
	cmd.AddOption(mybase.StringOption("tables-list", 'T', "", "Comma-separated list of db.table entries to dump"))
	cmd.AddOption(mybase.StringOption("skiplist-file", 0, "", "Path to a file listing db.table entries to exclude, one per line"))
	cmd.AddOption(mybase.StringOption("regex", 0, "", "Only dump tables whose db.table matches this regular expression"))

	cmd.AddOption(mybase.StringOption("exec", 0, "", "Shell command to run on each completed output file; {PATH}/{DATABASE}/{TABLE} are substituted"))
	cmd.AddOption(mybase.BoolOption("stream", 0, false, "Mark the run as a stream dump (rejected together with --exec); files are still written under --outputdir and nothing is written to stdout"))

	cmd.AddOption(mybase.StringOption("pause-at", 0, "", "Pause workers when free disk space under --outputdir falls below this many bytes (accepts K/M/G suffixes)"))
	cmd.AddOption(mybase.StringOption("resume-at", 0, "", "Resume paused workers once free disk space rises above this many bytes (accepts K/M/G suffixes)"))
	cmd.AddOption(mybase.BoolOption("daemon", 0, false, "Run continuously, starting a new dump one second after each dump finishes"))

	cmd.AddOption(mybase.BoolOption("debug", 0, false, "Enable debug logging"))
	cmd.AddOption(mybase.StringOption("metrics-listen", 0, "", "Address to serve Prometheus metrics on (e.g. :9104); disabled if blank"))
}

// promptPassword reads a password from STDIN without echoing the typed
// characters.
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

func runDump(cfg *mybase.Config) error {
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

	pauseAt, err := cfg.GetBytes("pause-at")
	if err != nil {
		return exitcode.Wrap(exitcode.BadUsage, err)
	}
	resumeAt, err := cfg.GetBytes("resume-at")
	if err != nil {
		return exitcode.Wrap(exitcode.BadUsage, err)
	}

	opts := dumpcore.Options{
		OutputDir:        cfg.Get("outputdir"),
		Threads:          cfg.GetIntOrDefault("threads"),
		Codec:            compress.Codec(cfg.Get("compress")),
		RowsPerStatement: cfg.GetIntOrDefault("rows"),

		LongQueryGuard:         time.Duration(cfg.GetIntOrDefault("long-query-guard")) * time.Second,
		LongQueryRetries:       cfg.GetIntOrDefault("long-query-retries"),
		LongQueryRetryInterval: time.Duration(cfg.GetIntOrDefault("long-query-retry-interval")) * time.Second,
		KillLongQueries:        cfg.GetBool("kill-long-queries"),

		TiDBSnapshot:       cfg.Get("tidb-snapshot"),
		NoLocks:            cfg.GetBool("no-locks"),
		LockAllTables:      cfg.GetBool("lock-all-tables"),
		NoBackupLocks:      cfg.GetBool("no-backup-locks"),
		LessLocking:        cfg.GetBool("less-locking"),
		TrxConsistencyOnly: cfg.GetBool("trx-consistency-only"),

		NoSchemas:      cfg.GetBool("no-schemas"),
		AllTablespaces: cfg.GetBool("all-tablespaces"),
		SetNames:       cfg.Get("set-names"),

		Databases: splitList(cfg.Get("database")),
		Tables:    splitList(cfg.Get("tables-list")),
		ExecCmd:   cfg.Get("exec"),
		Stream:    cfg.GetBool("stream"),

		PauseAtMB:  pauseAt / (1024 * 1024),
		ResumeAtMB: resumeAt / (1024 * 1024),
		Daemon:     cfg.GetBool("daemon"),

		Log: log,
	}

	if updated := cfg.Get("updated-since"); updated != "" {
		days, err := cfg.GetInt("updated-since")
		if err != nil {
			return exitcode.Wrap(exitcode.BadUsage, fmt.Errorf("--updated-since: %w", err))
		}
		opts.UpdatedSince = time.Duration(days) * 24 * time.Hour
	}

	var filterOpts []filter.Option
	if tables := splitList(cfg.Get("tables-list")); len(tables) > 0 {
		filterOpts = append(filterOpts, filter.WithTables(tables))
	}
	if path := cfg.Get("skiplist-file"); path != "" {
		filterOpts = append(filterOpts, filter.WithSkipListFile(path))
	}
	if pattern := cfg.Get("regex"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return exitcode.Wrap(exitcode.BadUsage, fmt.Errorf("--regex: %w", err))
		}
		filterOpts = append(filterOpts, filter.WithRegexp(re))
	}
	opts.Filter = filter.New(filterOpts...)

	if addr := cfg.Get("metrics-listen"); addr != "" {
		prom := telemetry.NewPrometheus(nil)
		opts.Telemetry = prom
		serveMetrics(log, addr, prom.Registry())
	} else {
		opts.Telemetry = telemetry.Null{}
	}

	if opts.Stream && opts.ExecCmd != "" {
		return exitcode.New(exitcode.BadUsage, "--stream and --exec are mutually exclusive")
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil && !opts.Stream {
		return exitcode.Wrap(exitcode.BadConfig, err)
	}

	// SIGTERM/SIGINT are handled inside dumpcore.Run by the signal
	// coordinator, which needs the disk-space pauser's per-worker
	// gates to implement the pause-then-confirm prompt; a second
	// signal.Notify here would just race it.
	ctx := context.Background()

	for {
		if err := dumpcore.Run(ctx, instance, opts); err != nil {
			return exitcode.Wrap(exitcode.CoreErrors, err)
		}
		if !opts.Daemon {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// passwordValue returns the password option's value, treating its
// "<no password>" default sentinel as an empty password.
func passwordValue(cfg *mybase.Config) string {
	if v := cfg.Get("password"); v != "<no password>" {
		return v
	}
	return ""
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

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
