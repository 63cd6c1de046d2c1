package loadcore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/restore"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestEnqueueExistingFilesPushesEveryFileThenEnd(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"db-schema-create.sql", "db.t-schema.sql", "db.t.00000.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- x\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	q := restore.NewQueue()
	if err := enqueueExistingFiles(dir, q); err != nil {
		t.Fatalf("enqueueExistingFiles: %v", err)
	}

	var got []string
	for q.Len() > 0 || len(got) == 0 || got[len(got)-1] != "END" {
		got = append(got, q.Pop())
	}
	if len(got) != 4 {
		t.Fatalf("expected 3 files + END, got %v", got)
	}
	if got[len(got)-1] != "END" {
		t.Errorf("expected last entry to be END, got %q", got[len(got)-1])
	}
	if got[0] == "subdir" {
		t.Errorf("directory entry should not have been enqueued")
	}
}

func TestVerifyChecksumsReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := "db.t-checksum"
	if err := os.WriteFile(filepath.Join(dir, present), []byte("db.t\tabc123\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := verifyChecksums(dir, []string{present}, discardLogger()); err != nil {
		t.Errorf("expected no error when every checksum file is present, got %v", err)
	}

	err := verifyChecksums(dir, []string{present, "db.other-checksum"}, discardLogger())
	if err == nil {
		t.Fatal("expected an error for a missing checksum file")
	}
}
