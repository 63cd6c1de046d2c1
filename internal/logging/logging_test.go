package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestFormatNonTerminalPlain(t *testing.T) {
	f := &formatter{isTerminal: false}
	entry := &logrus.Entry{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "acquired backup lock",
	}
	out, err := f.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	got := string(out)
	if !strings.Contains(got, "[INFO] ") || !strings.Contains(got, "acquired backup lock") {
		t.Errorf("unexpected output: %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("expected no ANSI codes for non-terminal output, got %q", got)
	}
}

func TestFormatTerminalAddsColor(t *testing.T) {
	f := &formatter{isTerminal: true, width: 100}
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.ErrorLevel,
		Message: "lost connection",
	}
	out, err := f.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "\x1b[31;1m") {
		t.Errorf("expected red color code for error level, got %q", out)
	}
}

func TestFormatWarnAligned(t *testing.T) {
	f := &formatter{isTerminal: false}
	entry := &logrus.Entry{Time: time.Now(), Level: logrus.WarnLevel, Message: "retrying"}
	out, _ := f.Format(entry)
	if !strings.Contains(string(out), "[WARN]  retrying") {
		t.Errorf("expected WARN to be space-padded like INFO, got %q", out)
	}
}
