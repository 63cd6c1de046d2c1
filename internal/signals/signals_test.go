package signals

import (
	"io"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakePauser struct {
	paused  int
	resumed int
}

func (f *fakePauser) PauseAll()  { f.paused++ }
func (f *fakePauser) ResumeAll() { f.resumed++ }

func newTestCoordinator(daemon bool, prompt io.Reader) (*Coordinator, *fakePauser) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	fp := &fakePauser{}
	c := New(fp, Options{Daemon: daemon, Prompt: prompt, Log: log})
	return c, fp
}

func TestSIGTERMTriggersShutdown(t *testing.T) {
	c, _ := newTestCoordinator(false, strings.NewReader(""))
	go c.loop()
	c.sigCh <- syscall.SIGTERM

	select {
	case <-c.Shutdown():
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be triggered by SIGTERM")
	}
}

func TestSIGINTInDaemonModeActsLikeSIGTERM(t *testing.T) {
	c, fp := newTestCoordinator(true, strings.NewReader(""))
	go c.loop()
	c.sigCh <- syscall.SIGINT

	select {
	case <-c.Shutdown():
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be triggered by SIGINT in daemon mode")
	}
	if fp.paused != 0 {
		t.Error("expected daemon-mode SIGINT to skip the pause/prompt mechanism entirely")
	}
}

func TestSIGINTPromptYesTriggersShutdown(t *testing.T) {
	c, fp := newTestCoordinator(false, strings.NewReader("y\n"))
	go c.loop()
	c.sigCh <- syscall.SIGINT

	select {
	case <-c.Shutdown():
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to be triggered by an affirmative SIGINT prompt response")
	}
	if fp.paused != 1 {
		t.Errorf("expected workers to be paused once, found %d", fp.paused)
	}
}

func TestSIGINTPromptNoResumesWorkers(t *testing.T) {
	c, fp := newTestCoordinator(false, strings.NewReader("n\n"))
	done := make(chan struct{})
	go func() {
		c.loop()
		close(done)
	}()
	c.sigCh <- syscall.SIGINT
	close(c.sigCh)
	<-done

	select {
	case <-c.Shutdown():
		t.Fatal("expected shutdown not to be triggered on a negative prompt response")
	default:
	}
	if fp.paused != 1 || fp.resumed != 1 {
		t.Errorf("expected exactly one pause and one resume, found paused=%d resumed=%d", fp.paused, fp.resumed)
	}
}
