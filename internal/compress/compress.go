// Package compress picks an output compression codec by name/extension
// and wraps it behind one small Codec contract: open_writer/close/write
// behind the file-extension conventions of the output layout.
// Compression ratio and codec internals are out of scope here.
package compress

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Codec names a compression algorithm understood by both the dump and
// restore sides.
type Codec string

// Constants enumerating supported codecs.
const (
	CodecNone Codec = ""
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

// Extension returns the file-extension suffix this codec appends to an
// otherwise-uncompressed output filename (e.g.
// "<db>.<table>-schema.sql.gz").
func (c Codec) Extension() string {
	switch c {
	case CodecGzip:
		return ".gz"
	case CodecZstd:
		return ".zst"
	default:
		return ""
	}
}

// FromExtension infers a Codec from a filename's trailing extension,
// the inverse of Extension; used by the restore side to decide how to
// decompress an inbound stream file.
func FromExtension(name string) Codec {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return CodecGzip
	case strings.HasSuffix(name, ".zst"):
		return CodecZstd
	default:
		return CodecNone
	}
}

// WriteCloser wraps an underlying writer with (optional) compression:
// Write feeds the codec, Close flushes and releases any codec state,
// independent of closing the underlying writer (which the caller still
// owns).
type WriteCloser interface {
	io.Writer
	io.Closer
}

// NewWriter wraps w with the given codec. CodecNone returns w unchanged
// wrapped in a no-op Closer, so callers can always defer Close().
func NewWriter(w io.Writer, c Codec) (WriteCloser, error) {
	switch c {
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// NewReader wraps r with the given codec's decompressor. CodecNone
// returns r unchanged wrapped in a no-op Closer.
func NewReader(r io.Reader, c Codec) (io.ReadCloser, error) {
	switch c {
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{zr}, nil
	default:
		return io.NopCloser(r), nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// zstdReadCloser adapts zstd.Decoder's Close (which returns nothing) to
// io.ReadCloser's Close() error.
type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
