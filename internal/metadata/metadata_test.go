package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/skeema/mydump/internal/model"
)

func TestWriteFileAtomicRenameAndLayout(t *testing.T) {
	dir := t.TempDir()
	coords := model.SnapshotCoordinates{
		HasMaster:      true,
		MasterLog:      "binlog.000123",
		MasterPosition: 4567,
		MasterGTID:     "3E11FA47-71CA-11E1-9E33-C80AA9429562:1-5",
		StartedAt:      time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC),
		FinishedAt:     time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC),
		Replicas: []model.ReplicaCoordinates{
			{ConnectionName: "channel1", Host: "replica1", Log: "binlog.000050", Position: 890, GTID: "abc:1-2"},
		},
	}

	if err := WriteFile(dir, coords); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "metadata.partial")); !os.IsNotExist(err) {
		t.Error("expected metadata.partial to be renamed away, not left behind")
	}
	content, err := os.ReadFile(filepath.Join(dir, "metadata"))
	if err != nil {
		t.Fatalf("expected metadata file to exist: %v", err)
	}
	text := string(content)
	for _, want := range []string{
		"Started dump at: 2026-07-31 10:00:00",
		"SHOW MASTER STATUS:",
		"Log: binlog.000123",
		"Pos: 4567",
		"GTID:3E11FA47-71CA-11E1-9E33-C80AA9429562:1-5",
		"SHOW SLAVE STATUS:",
		"Connection name: channel1",
		"Host: replica1",
		"Finished dump at: 2026-07-31 10:05:00",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected metadata file to contain %q, got:\n%s", want, text)
		}
	}

	want := strings.Join([]string{
		"Started dump at: 2026-07-31 10:00:00",
		"SHOW MASTER STATUS:",
		"    Log: binlog.000123",
		"    Pos: 4567",
		"    GTID:3E11FA47-71CA-11E1-9E33-C80AA9429562:1-5",
		"SHOW SLAVE STATUS:",
		"    Connection name: channel1",
		"    Host: replica1",
		"    Log: binlog.000050",
		"    Pos: 890",
		"    GTID:abc:1-2",
		"Finished dump at: 2026-07-31 10:05:00",
		"",
	}, "\n")
	if text != want {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(want),
			B:        difflib.SplitLines(text),
			FromFile: "expected",
			ToFile:   "actual",
			Context:  2,
		})
		t.Errorf("metadata file layout diverged from expected:\n%s", diff)
	}
}

func TestWriteFileNoReplicas(t *testing.T) {
	dir := t.TempDir()
	coords := model.SnapshotCoordinates{MasterLog: "binlog.1", MasterPosition: 1}
	if err := WriteFile(dir, coords); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "metadata"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "SHOW SLAVE STATUS") {
		t.Error("expected no SHOW SLAVE STATUS block when there are no replicas")
	}
}

func TestColumnHelpersHandleNullAndBytes(t *testing.T) {
	r := &row{byName: map[string]interface{}{
		"file":     []byte("binlog.000001"),
		"position": []byte("123"),
		"missing":  nil,
	}}
	if got := columnString(r, "File"); got != "binlog.000001" {
		t.Errorf("expected binlog.000001, found %q", got)
	}
	if got := columnInt64(r, "Position"); got != 123 {
		t.Errorf("expected 123, found %d", got)
	}
	if got := columnString(r, "missing"); got != "" {
		t.Errorf("expected empty string for nil column, found %q", got)
	}
	if got := columnString(nil, "anything"); got != "" {
		t.Errorf("expected empty string for nil row, found %q", got)
	}
}

func TestByOrdinalOutOfRange(t *testing.T) {
	r := row{ordinals: []interface{}{"a", "b"}}
	if got := r.byOrdinal(5); got != "" {
		t.Errorf("expected empty string for out-of-range ordinal, found %q", got)
	}
	if got := r.byOrdinal(1); got != "b" {
		t.Errorf("expected %q, found %q", "b", got)
	}
}
