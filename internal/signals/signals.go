// Package signals implements the signal coordinator: maps SIGTERM to a
// graceful shutdown and, in non-daemon mode, SIGINT to an interactive
// pause-then-confirm prompt.
package signals

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Pauser is the subset of diskspace.Pauser the coordinator needs: the
// same per-worker gates the disk-space pauser uses, so a SIGINT pause
// and a low-disk-space pause share one mechanism.
type Pauser interface {
	PauseAll()
	ResumeAll()
}

// Options configures a Coordinator.
type Options struct {
	Daemon bool      // in daemon mode, SIGINT behaves like SIGTERM
	Prompt io.Reader // stdin by default; overridable for tests
	Log    *logrus.Logger
}

// Coordinator watches for SIGTERM/SIGINT and drives shutdown or the
// interactive pause prompt.
type Coordinator struct {
	opts    Options
	pauser  Pauser
	sigCh   chan os.Signal
	trigger chan struct{} // closed once shutdown has been decided
}

// New returns a Coordinator. Call Start to begin listening.
func New(pauser Pauser, opts Options) *Coordinator {
	if opts.Prompt == nil {
		opts.Prompt = os.Stdin
	}
	return &Coordinator{
		opts:    opts,
		pauser:  pauser,
		sigCh:   make(chan os.Signal, 1),
		trigger: make(chan struct{}),
	}
}

// Start begins listening for SIGTERM and SIGINT on a background
// goroutine. Shutdown() returns a channel that's closed once shutdown
// has been triggered, either directly (SIGTERM, or SIGINT in daemon
// mode) or via an affirmative response to the SIGINT confirmation
// prompt.
func (c *Coordinator) Start() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go c.loop()
}

// Stop releases the signal subscription.
func (c *Coordinator) Stop() {
	signal.Stop(c.sigCh)
}

// Shutdown returns a channel that's closed once shutdown_triggered
// should become true.
func (c *Coordinator) Shutdown() <-chan struct{} {
	return c.trigger
}

func (c *Coordinator) loop() {
	for sig := range c.sigCh {
		switch sig {
		case syscall.SIGTERM:
			c.opts.Log.Warn("received SIGTERM, draining workers")
			c.triggerShutdown()
			return
		case syscall.SIGINT:
			if c.opts.Daemon {
				c.opts.Log.Warn("received SIGINT in daemon mode, treating as SIGTERM")
				c.triggerShutdown()
				return
			}
			if c.confirmShutdown() {
				c.triggerShutdown()
				return
			}
		}
	}
}

// confirmShutdown pauses all workers and prompts on Options.Prompt for a
// Y/N answer. A "Y" response leaves shutdown_triggered set by the
// caller; an "N" (or anything else) resumes the workers and continues.
func (c *Coordinator) confirmShutdown() bool {
	c.pauser.PauseAll()
	c.opts.Log.Warn("received SIGINT, workers paused; abort dump? [y/N] ")

	scanner := bufio.NewScanner(c.opts.Prompt)
	answer := ""
	if scanner.Scan() {
		answer = strings.TrimSpace(scanner.Text())
	}
	if strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
		return true
	}

	c.opts.Log.Warn("resuming workers")
	c.pauser.ResumeAll()
	return false
}

func (c *Coordinator) triggerShutdown() {
	select {
	case <-c.trigger:
		// already closed
	default:
		close(c.trigger)
	}
}
