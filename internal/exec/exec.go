// Package exec runs the external post-file hook (used by both the dump
// and the load side): a
// command-line template with {VARNAME} placeholders, run synchronously
// once per completed file via /bin/sh -c.
package exec

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Hook runs an external command once per completed dump file.
type Hook struct {
	template string
}

// NewHook returns a Hook that runs cmdTemplate for each file, with
// {PATH}, {DATABASE}, and {TABLE} placeholders substituted.
func NewHook(cmdTemplate string) *Hook {
	return &Hook{template: cmdTemplate}
}

// Enabled reports whether a non-blank hook command was configured. The
// dump core does not call it; it creates a Hook only when --exec is set.
func (h *Hook) Enabled() bool {
	return h != nil && strings.TrimSpace(h.template) != ""
}

// RunOnFile executes the configured command for one completed file,
// substituting path/database/table into the template. Table may be
// empty for files with no single owning table (e.g. schema-create
// files). STDOUT/STDERR/STDIN are inherited from the parent process.
func (h *Hook) RunOnFile(path, database, table string) error {
	vars := map[string]string{
		"PATH":     path,
		"DATABASE": database,
		"TABLE":    table,
	}
	command, err := interpolate(h.template, vars)
	if err != nil {
		return err
	}
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// interpolate substitutes "{VARNAME}" placeholders in template with the
// corresponding entry of vars (keys are looked up upper-cased). An
// unrecognized placeholder is an error. Each substituted value passes
// through escapeVarValue so the shell sees it as one word; the template
// text itself is not escaped.
func interpolate(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	var pos int
	for {
		start := strings.IndexByte(template[pos:], '{') + pos
		if start < pos {
			break
		}
		end := strings.IndexByte(template[start+1:], '}') + start + 1
		if end <= start {
			return "", fmt.Errorf("exec: variable name missing closing brace: %s", template[start:])
		}
		name := strings.ToUpper(template[start+1 : end])
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("exec: unknown variable %s", name)
		}
		b.WriteString(template[pos:start])
		b.WriteString(escapeVarValue(value))
		pos = end + 1
	}
	b.WriteString(template[pos:])
	return b.String(), nil
}

// noQuotesNeeded matches variable values that don't need escaping or
// quote-wrapping before being placed into a /bin/sh -c command line.
var noQuotesNeeded = regexp.MustCompile(`^[\w/@%=:.,+-]*$`)

// escapeVarValue returns value unchanged when noQuotesNeeded matches it;
// otherwise it wraps value in single quotes so /bin/sh -c treats it as
// one argument, escaping any embedded single quotes so they survive.
func escapeVarValue(value string) string {
	if noQuotesNeeded.MatchString(value) {
		return value
	}
	return fmt.Sprintf("'%s'", strings.ReplaceAll(value, "'", `'"'"'`))
}
