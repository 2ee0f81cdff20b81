// Package compress implements the lossless codecs that may be applied to an
// archive data section before encryption.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm of a data section. Codecs are
// stored in the archive file tags (1 byte). These values are format
// constants: changing them breaks compatibility with existing archives.
type Codec uint8

const (
	// CodecNone marks an uncompressed data section. It is the only valid
	// codec for the plain and encrypted-only variants.
	CodecNone Codec = 0

	// CodecLZ4 is the LZ4 frame format. Fast, moderate ratio; the default.
	CodecLZ4 Codec = 1

	// CodecZstd is Zstandard at the default level. Better ratios for
	// text-heavy trees at a higher CPU cost.
	CodecZstd Codec = 2
)

// ErrSizeMismatch is returned when a decompressed stream does not produce
// exactly the expected number of bytes.
var ErrSizeMismatch = errors.New("decompressed size mismatch")

// String returns the human-readable name of a codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	switch c {
	case CodecNone, CodecLZ4, CodecZstd:
		return true
	}
	return false
}

// ParseCodec parses a codec from its string representation.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// NewWriter returns a writer that compresses into w. The caller must Close
// the returned writer to flush the final frame; Close does not close w.
func NewWriter(w io.Writer, c Codec) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		// Zero frames keep an empty data section decodable.
		encoder, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithZeroFrames(true),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", c)
	}
}

// NewReader returns a reader that decompresses r.
func NewReader(r io.Reader, c Codec) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zstdReadCloser{decoder}, nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", c)
	}
}

// Compress compresses data as one unit.
func Compress(data []byte, c Codec) ([]byte, error) {
	var out bytes.Buffer
	w, err := NewWriter(&out, c)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	return out.Bytes(), nil
}

// Decompress reverses Compress. The output must be exactly expectedSize
// bytes long; a shorter or longer stream fails with ErrSizeMismatch. At most
// expectedSize+1 bytes are ever produced, which bounds memory use for a
// hostile stream.
func Decompress(compressed []byte, c Codec, expectedSize int) ([]byte, error) {
	if expectedSize < 0 {
		return nil, fmt.Errorf("%s decompress: negative expected size %d", c, expectedSize)
	}
	r, err := NewReader(bytes.NewReader(compressed), c)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, expectedSize)
	n, err := io.ReadFull(r, out)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s decompress: got %d bytes, expected %d: %w", c, n, expectedSize, ErrSizeMismatch)
		}
		return nil, fmt.Errorf("%s decompress: %w", c, err)
	}

	var extra [1]byte
	m, err := r.Read(extra[:])
	for m == 0 && err == nil {
		m, err = r.Read(extra[:])
	}
	if m > 0 {
		return nil, fmt.Errorf("%s decompress: stream longer than expected %d bytes: %w", c, expectedSize, ErrSizeMismatch)
	}
	if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s decompress: %w", c, err)
	}
	return out, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
