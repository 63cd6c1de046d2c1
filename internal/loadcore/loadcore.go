// Package loadcore is the restore-side orchestrator: it wires the Stream
// Demultiplexer and the Restore Scheduler's Classifier and Pool together
// behind one errgroup.WithContext, and executes the restore jobs the
// Pool dequeues against the target instance.
package loadcore

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skeema/mydump/internal/compress"
	"github.com/skeema/mydump/internal/exec"
	"github.com/skeema/mydump/internal/model"
	"github.com/skeema/mydump/internal/restore"
	"github.com/skeema/mydump/internal/server"
	"github.com/skeema/mydump/internal/telemetry"
)

// Options configures one restore run, mirroring internal/dumpcore.Options
// for the fields that mean the same thing on both sides.
type Options struct {
	InputDir     string // where the demultiplexer writes decoded files; also read directly when Stream is false
	Threads      int
	NoData       bool
	SkipTriggers bool
	SkipPost     bool
	ExecCmd      string
	Stream       bool // true: Input is a concatenated framed stream read from Stdin; false: InputDir already holds mydumper-format files
	Telemetry    telemetry.Emitter
	Log          *logrus.Logger
}

// Run restores a mydumper-format dump (streamed or already on disk) into
// instance: demultiplex (if streaming) → classify → schedule → execute,
// with errors from any stage surfacing through the errgroup.
func Run(ctx context.Context, instance *server.Instance, opts Options) error {
	cfg := model.NewConfiguration(opts.Threads)
	queues := restore.NewQueues()
	intermediate := restore.NewQueue()
	wake := restore.NewQueue()

	classifier := restore.NewClassifier(cfg, queues, intermediate, wake, opts.Log)
	classifier.SkipTriggers = opts.SkipTriggers
	classifier.SkipPost = opts.SkipPost
	classifier.NoData = opts.NoData

	var execHook *exec.Hook
	if opts.ExecCmd != "" {
		execHook = exec.NewHook(opts.ExecCmd)
	}

	pool := restore.NewPool(cfg, queues, opts.Threads, opts.Log, makeHandler(instance, opts.InputDir, execHook), wake)

	g, gctx := errgroup.WithContext(ctx)

	if opts.Stream {
		demux := &restore.Demultiplexer{OutputDir: opts.InputDir, Intermediate: intermediate}
		g.Go(func() error {
			if err := demux.Run(os.Stdin); err != nil {
				return fmt.Errorf("demultiplexing stream: %w", err)
			}
			return nil
		})
	} else {
		g.Go(func() error {
			return enqueueExistingFiles(opts.InputDir, intermediate)
		})
	}

	g.Go(func() error {
		if err := classifier.Run(gctx); err != nil {
			return fmt.Errorf("classifying restore files: %w", err)
		}
		pool.Shutdown()
		return nil
	})

	poolDone := make(chan struct{})
	g.Go(func() error {
		pool.Run(gctx)
		close(poolDone)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	<-poolDone

	if err := verifyChecksums(opts.InputDir, classifier.ChecksumFiles, opts.Log); err != nil {
		opts.Log.Warnf("checksum verification: %v", err)
	}

	if opts.Telemetry != nil {
		opts.Telemetry.Emit("restore.errors", float64(cfg.Errors))
	}
	if cfg.Errors > 0 {
		return fmt.Errorf("restore: %d job(s) failed", cfg.Errors)
	}
	return nil
}

// enqueueExistingFiles walks a directory of already-extracted
// mydumper-format files (the non-streaming case) and feeds each one to
// the intermediate queue exactly as the Demultiplexer would have, in
// lexical order so schema files (which sort before their data files
// under mydumper's naming convention) are seen first.
func enqueueExistingFiles(dir string, intermediate *restore.Queue) error {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	for _, n := range names {
		intermediate.Push(n)
	}
	intermediate.Push("END")
	return nil
}

func makeHandler(instance *server.Instance, inputDir string, execHook *exec.Hook) restore.Handler {
	return func(ctx context.Context, job *model.Job) error {
		switch job.Kind {
		case model.JobRestoreSchema:
			return runSQLFile(ctx, instance, inputDir, job, execHook)
		case model.JobRestoreData:
			return runSQLFile(ctx, instance, inputDir, job, execHook)
		default:
			return fmt.Errorf("restore: unexpected job kind %s", job.Kind)
		}
	}
}

// runSQLFile decompresses job.FilePath (resolved against inputDir, since
// the classifier carries the stream-relative path rather than an
// absolute one) per its trailing extension and executes its entire
// contents as one multi-statement batch, the way myloader's
// restore_data_in_gstring_from_file hands an already-rendered SQL
// buffer straight to the server. The connection pool is opened with
// multiStatements=true for exactly this reason.
func runSQLFile(ctx context.Context, instance *server.Instance, inputDir string, job *model.Job, execHook *exec.Hook) error {
	fullPath := job.FilePath
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(inputDir, fullPath)
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", fullPath, err)
	}
	defer f.Close()

	rc, err := compress.NewReader(f, compress.FromExtension(fullPath))
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", fullPath, err)
	}
	defer rc.Close()

	body, err := ioutil.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading %s: %w", fullPath, err)
	}
	if len(body) == 0 {
		return nil
	}

	db, err := instance.ConnectionPool(job.Database, "multiStatements=true")
	if err != nil {
		return fmt.Errorf("connecting for %s: %w", fullPath, err)
	}

	if job.Database != "" {
		ddl := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", server.EscapeIdentifier(job.Database))
		if job.Kind == model.JobRestoreSchema && job.Table == "" {
			if _, err := db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("creating database %s: %w", job.Database, err)
			}
		}
	}

	if _, err := db.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("executing %s: %w", fullPath, err)
	}

	if execHook != nil && execHook.Enabled() {
		if err := execHook.RunOnFile(fullPath, job.Database, job.Table); err != nil {
			return fmt.Errorf("exec hook on %s: %w", fullPath, err)
		}
	}
	return nil
}

// verifyChecksums confirms every checksum (and table metadata) file the
// classifier collected is still present under inputDir. The checksum
// values are not parsed or compared against the restored data; only
// missing files are reported, so a partial restore doesn't silently look
// complete.
func verifyChecksums(inputDir string, files []string, log *logrus.Logger) error {
	var missing []string
	for _, name := range files {
		path := filepath.Join(inputDir, name)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d checksum file(s) referenced but not found: %v", len(missing), missing)
	}
	log.Debugf("verified %d checksum file(s) present", len(files))
	return nil
}
