package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/encryption"
	"lusl/pkg/progress"
	"lusl/pkg/secret"
)

// Serializer packs one directory tree into one archive file.
type Serializer struct {
	source      string
	destination string
	cfg         config
	logger      *slog.Logger

	tags   archive.FileTags
	key    *secret.Buffer
	optErr error
	state  State
}

// NewSerializer prepares to pack source into destination. Until SetOptions
// is called the archive is plain with MD5 checksums.
func NewSerializer(source, destination string, opts ...Option) (*Serializer, error) {
	cfg := newConfig(opts)

	info, err := cfg.fs.Stat(source)
	if err != nil {
		return nil, archive.NewIOError("stat", source, err)
	}
	if !info.IsDir() {
		return nil, archive.NewIOError("open", source, errors.New("not a directory"))
	}

	tags, err := archive.NewFileTags(archive.VariantPlain, compress.CodecNone, checksum.SchemeMD5)
	if err != nil {
		return nil, err
	}
	return &Serializer{
		source:      source,
		destination: destination,
		cfg:         cfg,
		logger:      cfg.logger.With("component", "serializer", "source", source, "destination", destination),
		tags:        tags,
	}, nil
}

// SetOptions selects the variant for subsequent Serialize calls. An
// inconsistent combination is returned here and again by Serialize.
func (s *Serializer) SetOptions(opts Options) error {
	resolved, err := resolveWriteOptions(opts, s.cfg.kdf)
	if err != nil {
		s.optErr = err
		return err
	}

	closeKey(s.key)
	s.tags = resolved.tags
	s.key = resolved.key
	s.optErr = nil
	s.logger.Debug("options set", "variant", s.tags.Variant, "codec", s.tags.Codec, "checksum", s.tags.Checksum)
	return nil
}

// State returns the state reached by the last Serialize call.
func (s *Serializer) State() State { return s.state }

// Close releases key material. The Serializer must not be used afterwards.
func (s *Serializer) Close() error {
	closeKey(s.key)
	s.key = nil
	return nil
}

// Serialize writes the archive.
func (s *Serializer) Serialize() error {
	return s.SerializeContext(context.Background())
}

// SerializeContext writes the archive, checking ctx between files. On
// failure the destination is left as it was.
func (s *Serializer) SerializeContext(ctx context.Context) (err error) {
	s.setState(StateIdle)
	defer func() {
		if err != nil {
			s.setState(StateFailed)
			s.logger.Warn("serialize failed", "error", err)
		}
	}()
	if s.optErr != nil {
		return s.optErr
	}
	if s.tags.Variant.Encrypted() && s.key == nil {
		return archive.Configurationf("serializer is closed")
	}

	entries, err := collectEntries(ctx, s.cfg.fs, s.source, s.destination, s.logger)
	if err != nil {
		return fmt.Errorf("collect entries: %w", err)
	}
	records, err := checksumEntries(ctx, s.cfg.fs, entries, s.tags.Checksum, s.cfg.workers)
	if err != nil {
		return fmt.Errorf("checksum files: %w", err)
	}
	total, err := archive.ValidateRecords(records)
	if err != nil {
		return fmt.Errorf("validate records: %w", err)
	}

	s.cfg.progress.Begin("pack", total)
	defer s.cfg.progress.End()

	if err := s.writeArchive(ctx, entries, records, total); err != nil {
		return err
	}

	s.setState(StateFinalized)
	s.logger.Info("archive written",
		"files", len(records),
		"bytes", total,
		"variant", s.tags.Variant,
	)
	return nil
}

// writeArchive writes to a temporary file next to the destination and
// renames it into place only once it is complete.
func (s *Serializer) writeArchive(ctx context.Context, entries []Entry, records []archive.FileRecord, total uint64) (err error) {
	dir := filepath.Dir(s.destination)
	if err := s.cfg.fs.MkdirAll(dir, 0o755); err != nil {
		return archive.NewIOError("mkdir", dir, err)
	}
	tmp, err := afero.TempFile(s.cfg.fs, dir, "."+filepath.Base(s.destination)+".tmp-*")
	if err != nil {
		return archive.NewIOError("create", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err == nil {
			return
		}
		tmp.Close()
		if rmErr := s.cfg.fs.Remove(tmpName); rmErr != nil {
			err = errors.Join(err, archive.NewIOError("remove", tmpName, rmErr))
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := s.writeSections(ctx, w, entries, records, total); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return archive.NewIOError("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return archive.NewIOError("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return archive.NewIOError("close", tmpName, err)
	}
	if err := s.cfg.fs.Rename(tmpName, s.destination); err != nil {
		return archive.NewIOError("rename", s.destination, err)
	}
	return nil
}

// writeSections writes tags, metadata and the data section for the
// configured variant.
func (s *Serializer) writeSections(ctx context.Context, w io.Writer, entries []Entry, records []archive.FileRecord, total uint64) error {
	header := archive.AppendHeader(nil, s.tags, records)

	if _, err := w.Write(header[:archive.TagsSize]); err != nil {
		return archive.NewIOError("write", s.destination, err)
	}
	s.setState(StateHeaderWritten)
	if _, err := w.Write(header[archive.TagsSize:]); err != nil {
		return archive.NewIOError("write", s.destination, err)
	}
	s.setState(StateMetadataWritten)

	if !s.tags.Variant.Encrypted() {
		sink := &progress.Writer{W: w, Tracker: s.cfg.progress}
		if err := s.streamData(ctx, sink, entries, records); err != nil {
			return err
		}
		s.setState(StateDataWritten)
		return nil
	}

	var data bytes.Buffer
	if total <= math.MaxInt32 {
		data.Grow(int(total))
	}
	sink := &progress.Writer{W: &data, Tracker: s.cfg.progress}
	if err := s.streamData(ctx, sink, entries, records); err != nil {
		return err
	}

	tail, err := s.sealData(header, data.Bytes())
	if err != nil {
		return err
	}
	if _, err := w.Write(tail); err != nil {
		return archive.NewIOError("write", s.destination, err)
	}
	s.setState(StateDataWritten)
	return nil
}

// streamData copies every file in record order into w. Each file is hashed
// again on the way through; content that no longer matches its record
// aborts the archive.
func (s *Serializer) streamData(ctx context.Context, w io.Writer, entries []Entry, records []archive.FileRecord) error {
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return archive.NewIOError("read", entry.FilePath, err)
		}
		if err := s.copyFile(w, entry.FilePath, records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) copyFile(w io.Writer, path string, record archive.FileRecord) error {
	f, err := s.cfg.fs.Open(path)
	if err != nil {
		return archive.NewIOError("open", path, err)
	}
	defer f.Close()

	h := s.tags.Checksum.New()
	// One byte past the recorded size is enough to notice growth.
	n, err := io.Copy(io.MultiWriter(w, h), io.LimitReader(f, int64(record.Size)+1))
	if err != nil {
		return archive.NewIOError("read", path, err)
	}
	if uint64(n) != record.Size || checksum.Finish(h) != record.Checksum {
		return archive.NewIOError("read", path, errFileChanged)
	}
	return nil
}

// sealData compresses data for the compressed variant and seals it. It
// returns every byte that follows the metadata section.
func (s *Serializer) sealData(header, data []byte) ([]byte, error) {
	aad := header
	if s.tags.Variant.Compressed() {
		compressed, err := compress.Compress(data, s.tags.Codec)
		if err != nil {
			return nil, archive.NewIOError("compress", s.destination, err)
		}
		s.logger.Debug("data section compressed", "codec", s.tags.Codec, "original", len(data), "compressed", len(compressed))
		data = compressed
		aad = archive.AppendUint64(bytes.Clone(header), uint64(len(compressed)))
	}

	nonce, err := encryption.NewNonce()
	if err != nil {
		return nil, archive.NewIOError("encrypt", s.destination, err)
	}
	ciphertext, err := encryption.Seal(s.key, nonce, data, aad)
	if err != nil {
		return nil, archive.NewIOError("encrypt", s.destination, err)
	}

	tail := make([]byte, 0, len(aad)-len(header)+len(nonce)+len(ciphertext))
	tail = append(tail, aad[len(header):]...)
	tail = append(tail, nonce[:]...)
	return append(tail, ciphertext...), nil
}

func (s *Serializer) setState(state State) {
	s.state = state
	s.logger.Debug("state", "state", state)
}
