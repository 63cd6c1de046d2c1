// Package restore implements the restore side of the coordination core:
// the stream demultiplexer, which parses a single inbound framed stream
// into files and classifies them, and the restore scheduler, which
// dequeues and executes the resulting jobs against the table registry's
// per-table concurrency caps. Grounded on myloader_stream.c's
// process_stream/process_stream_filename/process_stream_queue design.
package restore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/skeema/mydump/internal/model"
)

const streamBufferSize = 64 * 1024

// mydumperSuffixes are the file-extension endings that mark a header
// line's path as belonging to this stream format.
var mydumperSuffixes = []string{
	".dat", ".dat.gz", ".dat.zst",
	".sql", ".sql.gz", ".sql.zst",
	"metadata",
	"-checksum", "-checksum.gz", "-checksum.zst",
}

func hasMydumperSuffix(name string) bool {
	for _, suf := range mydumperSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// Demultiplexer reads a concatenated stream of framed files (header line
// "\n-- <relative-path>\n" followed by the file's bytes) and writes each
// one out under OutputDir, pushing the completed filename to the
// Intermediate classifier queue as each new header is encountered.
type Demultiplexer struct {
	OutputDir    string
	Intermediate *Queue // consumer is the intermediate classifier (see scheduler.go)
}

// Run consumes r until EOF, demultiplexing it into files under
// OutputDir. On EOF it pushes the sentinel "END" to Intermediate.
func (d *Demultiplexer) Run(r io.Reader) error {
	br := bufio.NewReaderSize(r, streamBufferSize)

	var current *os.File
	var currentName string

	closeCurrent := func() {
		if current != nil {
			current.Close()
			d.Intermediate.Push(currentName)
			current = nil
			currentName = ""
		}
	}

	// A bare "\n" line may be the blank line that opens the next header,
	// so it is held back until the following line shows whether it is
	// payload.
	pendingBlank := false
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if name, ok := parseHeader(line); ok {
				pendingBlank = false
				closeCurrent()
				relPath := name
				fullPath := filepath.Join(d.OutputDir, relPath)
				if !hasMydumperSuffix(relPath) {
					// Not a recognized mydumper/myloader file; nothing to
					// open, but still consumes the header line.
				} else if _, statErr := os.Stat(fullPath); statErr == nil {
					// Already streamed in a prior, interrupted attempt.
				} else {
					if mkErr := os.MkdirAll(filepath.Dir(fullPath), 0755); mkErr != nil {
						return fmt.Errorf("creating directory for %s: %w", fullPath, mkErr)
					}
					f, openErr := os.Create(fullPath)
					if openErr != nil {
						return fmt.Errorf("creating %s: %w", fullPath, openErr)
					}
					current = f
					currentName = relPath
				}
			} else if current != nil {
				out := line
				if pendingBlank {
					out = "\n" + out
					pendingBlank = false
				}
				if line == "\n" {
					pendingBlank = true
					out = strings.TrimSuffix(out, "\n")
				}
				if _, werr := current.WriteString(out); werr != nil {
					return fmt.Errorf("writing %s: %w", currentName, werr)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	if pendingBlank && current != nil {
		if _, werr := current.WriteString("\n"); werr != nil {
			return fmt.Errorf("writing %s: %w", currentName, werr)
		}
	}
	closeCurrent()
	d.Intermediate.Push("END")
	return nil
}

// parseHeader recognizes the "-- <path>\n" line of a "\n-- <path>\n"
// header. ReadString stops at each "\n", so the blank line before it
// arrives as a line of its own (Run holds it back); a leading "\n" on
// line itself is also accepted.
func parseHeader(line string) (string, bool) {
	trimmed := strings.TrimPrefix(line, "\n")
	const marker = "-- "
	if !strings.HasPrefix(trimmed, marker) {
		return "", false
	}
	rest := strings.TrimPrefix(trimmed, marker)
	rest = strings.TrimSuffix(rest, "\n")
	if rest == "" || strings.ContainsAny(rest, "\r") {
		return strings.TrimRight(rest, "\r"), rest != ""
	}
	return rest, true
}

// SplitFrames is a pure, in-memory equivalent of Run used by tests and by
// callers that already hold the whole stream in a byte slice: it returns
// the ordered list of (filename, payload) pairs the stream decodes to,
// without touching the filesystem.
func SplitFrames(data []byte) []Frame {
	var frames []Frame
	var cur *Frame
	held := false // a blank line that may belong to the next header

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, streamBufferSize), streamBufferSize)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := parseHeader(line + "\n"); ok {
			held = false
			frames = append(frames, Frame{Name: name})
			cur = &frames[len(frames)-1]
			continue
		}
		if cur != nil {
			if held && cur.Payload != "" {
				cur.Payload += "\n"
			}
			held = line == ""
			if held {
				continue
			}
			if cur.Payload != "" {
				cur.Payload += "\n"
			}
			cur.Payload += line
		}
	}
	if held && cur != nil && cur.Payload != "" {
		cur.Payload += "\n"
	}
	return frames
}

// Frame is one decoded (filename, payload) pair from SplitFrames.
type Frame struct {
	Name    string
	Payload string
}

// ClassifyFile determines a file's RestoreFileKind from its name,
// grounded on myloader_stream.c's get_file_type/process_filename
// dispatch.
func ClassifyFile(name string) model.RestoreFileKind {
	base := filepath.Base(name)

	switch {
	case base == "metadata":
		return model.FileMetadataGlobal
	case base == "resume":
		return model.FileResume
	case base == "not_updated_tables":
		return model.FileIgnored
	case strings.HasSuffix(base, "-schema-create.sql") || strings.HasSuffix(base, "-schema-create.sql.gz") || strings.HasSuffix(base, "-schema-create.sql.zst"):
		return model.FileSchemaCreate
	case strings.HasSuffix(base, "-schema-view.sql") || strings.HasSuffix(base, "-schema-view.sql.gz") || strings.HasSuffix(base, "-schema-view.sql.zst"):
		return model.FileSchemaView
	case strings.HasSuffix(base, "-schema-triggers.sql") || strings.HasSuffix(base, "-schema-triggers.sql.gz") || strings.HasSuffix(base, "-schema-triggers.sql.zst"):
		return model.FileSchemaTrigger
	case strings.HasSuffix(base, "-schema-post.sql") || strings.HasSuffix(base, "-schema-post.sql.gz") || strings.HasSuffix(base, "-schema-post.sql.zst"):
		return model.FileSchemaPost
	case strings.HasSuffix(base, "-schema.sql") || strings.HasSuffix(base, "-schema.sql.gz") || strings.HasSuffix(base, "-schema.sql.zst"):
		return model.FileSchemaTable
	case strings.HasSuffix(base, "-metadata"):
		return model.FileMetadataTable
	case strings.HasSuffix(base, "-checksum") || strings.HasSuffix(base, "-checksum.gz") || strings.HasSuffix(base, "-checksum.zst"):
		return model.FileChecksum
	case strings.HasSuffix(base, "-schema-tablespace.sql") || strings.Contains(base, "tablespace"):
		return model.FileTablespace
	case strings.HasSuffix(base, ".load_data.sql"):
		return model.FileLoadData
	case strings.HasSuffix(base, ".dat") || strings.HasSuffix(base, ".dat.gz") || strings.HasSuffix(base, ".dat.zst") ||
		strings.HasSuffix(base, ".sql") || strings.HasSuffix(base, ".sql.gz") || strings.HasSuffix(base, ".sql.zst"):
		if isDataFile(base) {
			return model.FileData
		}
		return model.FileIgnored
	default:
		return model.FileIgnored
	}
}

// isDataFile reports whether base matches the "<db>.<table>[.<chunk>].ext"
// data-file naming convention: at least two dot-separated components
// before the recognized extension, and none of the "-schema"/
// "-checksum"/"-metadata" suffixes already peeled off above.
func isDataFile(base string) bool {
	stem := stripKnownExtension(base)
	return strings.Count(stem, ".") >= 1
}

func stripKnownExtension(base string) string {
	for _, ext := range []string{".dat.gz", ".dat.zst", ".dat", ".sql.gz", ".sql.zst", ".sql"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}
