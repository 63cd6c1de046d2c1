// Package logging configures the shared logrus.Logger used by
// cmd/mydumper and cmd/myloader: a colorized, wordwrap-aware single-line
// formatter when attached to a terminal (or running as a go test binary),
// plain output otherwise.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/sirupsen/logrus"
	terminal "golang.org/x/term"
)

// New returns a logrus.Logger configured with the colorized formatter
// when stderr is a terminal, and the given level.
func New(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(newFormatter(os.Stderr))
	return log
}

func newFormatter(stderr *os.File) *formatter {
	f := &formatter{}
	fd := int(stderr.Fd())
	if terminal.IsTerminal(fd) {
		f.isTerminal = true
		f.width, _, _ = terminal.GetSize(fd)
		if f.width > 0 && f.width < 80 {
			f.width = 80
		}
	} else if strings.HasSuffix(os.Args[0], ".test") {
		f.isTerminal = true
	}
	return f
}

type formatter struct {
	isTerminal bool
	width      int
}

// Format implements logrus.Formatter.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	var startColor, endColor, spacing string
	if f.isTerminal {
		endColor = "\x1b[0m"
		switch entry.Level {
		case logrus.DebugLevel:
			startColor = "\x1b[36;1m"
		case logrus.InfoLevel:
			startColor = "\x1b[32;1m"
		case logrus.WarnLevel:
			startColor = "\x1b[33;1m"
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			startColor = "\x1b[31;1m"
		default:
			endColor = ""
		}
	}
	levelName := strings.ToUpper(entry.Level.String())
	if levelName == "WARNING" {
		levelName = "WARN"
	}
	var spacer string
	if len(levelName) == 4 {
		spacer = " "
	}
	levelText := fmt.Sprintf("[%s%s%s]%s ", startColor, levelName, endColor, spacer)

	message := entry.Message
	if f.isTerminal && f.width > 0 {
		const headerLen = 28
		message = wordwrap.WrapString(message, uint(f.width-headerLen))
		indent := fmt.Sprintf("\n%*s", headerLen, " ")
		message = strings.Replace(message, "\n", indent, -1)
	}

	fmt.Fprintf(b, "%s %s%s\n", entry.Time.Format("2006-01-02 15:04:05"), levelText, message)
	return b.Bytes(), nil
}
