// Package longquery blocks dump start until no concurrent query has been
// running longer than a threshold, optionally killing offenders.
package longquery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/server"
)

// Options configures Wait.
type Options struct {
	Threshold       time.Duration // queries running longer than this are offenders
	KillLongQueries bool
	MaxRetries      int           // number of re-checks before giving up fatally
	RetryInterval   time.Duration // fixed interval between checks
}

// Wait polls instance's process list, counting offenders (queries with
// Command == "Query", User != "system user", and Time > Threshold). If
// KillLongQueries is set, it issues KILL on each offender; an offender
// that fails to be killed still counts against the retry budget. The loop
// terminates successfully once no offenders remain, or returns an error
// once MaxRetries is exhausted.
func Wait(ctx context.Context, instance *server.Instance, log *logrus.Logger, opts Options) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		offenders, err := offendingConnections(instance, opts.Threshold)
		if err != nil {
			return fmt.Errorf("long-query guard: unable to inspect process list: %w", err)
		}
		if len(offenders) == 0 {
			return nil
		}

		remaining := 0
		for _, sp := range offenders {
			if opts.KillLongQueries {
				if err := instance.KillConnection(sp.ID); err != nil {
					log.Warnf("long-query guard: unable to kill connection %d: %v", sp.ID, err)
					remaining++
				}
			} else {
				remaining++
			}
		}
		if remaining == 0 {
			return nil
		}

		log.Warnf("long-query guard: %d connection(s) still running longer than %s, retrying (%d/%d)", remaining, opts.Threshold, attempt+1, maxRetries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("long-query guard: exhausted %d retries with long-running queries still present", maxRetries)
}

func offendingConnections(instance *server.Instance, threshold time.Duration) ([]server.ServerProcess, error) {
	plist, err := instance.ProcessList()
	if err != nil {
		return nil, err
	}
	thresholdSec := threshold.Seconds()
	var offenders []server.ServerProcess
	for _, sp := range plist {
		if sp.Command == "Query" && sp.User != "system user" && sp.Time > thresholdSec {
			offenders = append(offenders, sp)
		}
	}
	return offenders, nil
}
