package exec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHookEnabled(t *testing.T) {
	if (&Hook{}).Enabled() {
		t.Error("expected empty template to be disabled")
	}
	if !NewHook("true").Enabled() {
		t.Error("expected non-empty template to be enabled")
	}
}

func TestRunOnFileSubstitutesVariables(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	h := NewHook("touch {PATH}")
	if err := h.RunOnFile(marker, "db", "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected hook to create %s: %v", marker, err)
	}
}

func TestRunOnFileRejectsUnknownVariable(t *testing.T) {
	h := NewHook("echo {NOT_A_VAR}")
	if err := h.RunOnFile("/tmp/x", "db", "t"); err == nil {
		t.Error("expected error for unknown placeholder")
	}
}

func TestInterpolateSubstitutesPlaceholders(t *testing.T) {
	got, err := interpolate("cp {PATH} /backup/{TABLE}", map[string]string{"PATH": "/tmp/x.sql", "TABLE": "orders"})
	if err != nil {
		t.Fatal(err)
	}
	if want := "cp /tmp/x.sql /backup/orders"; got != want {
		t.Errorf("interpolate() = %q, want %q", got, want)
	}
}

func TestInterpolateRejectsUnclosedBrace(t *testing.T) {
	if _, err := interpolate("echo {PATH", map[string]string{"PATH": "x"}); err == nil {
		t.Error("expected error for unclosed brace")
	}
}

func TestEscapeVarValueQuotesValuesNeedingIt(t *testing.T) {
	if got := escapeVarValue("/var/lib/mysql/db.sql"); got != "/var/lib/mysql/db.sql" {
		t.Errorf("expected plain path to pass through unescaped, got %q", got)
	}
	got := escapeVarValue("it's a test")
	want := `'it'"'"'s a test'`
	if got != want {
		t.Errorf("escapeVarValue() = %q, want %q", got, want)
	}
}
