package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/encryption"
	"lusl/pkg/secret"
)

// Deserializer restores one archive file into a directory tree.
type Deserializer struct {
	source      string
	destination string
	cfg         config
	logger      *slog.Logger

	key    *secret.Buffer
	optErr error
	state  State
}

// decoded is a fully checked archive held in memory.
type decoded struct {
	tags    archive.FileTags
	records []archive.FileRecord
	// files holds each record's content, sliced from the data section.
	files [][]byte
	total uint64
}

// NewDeserializer prepares to restore source below destination.
func NewDeserializer(source, destination string, opts ...Option) (*Deserializer, error) {
	cfg := newConfig(opts)

	info, err := cfg.fs.Stat(source)
	if err != nil {
		return nil, archive.NewIOError("stat", source, err)
	}
	if info.IsDir() {
		return nil, archive.NewIOError("open", source, errors.New("is a directory"))
	}

	return &Deserializer{
		source:      source,
		destination: destination,
		cfg:         cfg,
		logger:      cfg.logger.With("component", "deserializer", "source", source, "destination", destination),
	}, nil
}

// SetOptions supplies the passphrase. The archive's own tags decide the
// variant, so Codec and Checksum are not consulted.
func (d *Deserializer) SetOptions(opts Options) error {
	if opts.Compress && !opts.Encrypt {
		d.optErr = archive.Configurationf("compression requires encryption")
		return d.optErr
	}
	if opts.Encrypt && opts.Passphrase == "" {
		d.optErr = archive.Configurationf("encryption requires a passphrase")
		return d.optErr
	}

	var key *secret.Buffer
	if opts.Passphrase != "" {
		var err error
		if key, err = deriveKey(opts.Passphrase, d.cfg.kdf); err != nil {
			d.optErr = err
			return err
		}
	}
	closeKey(d.key)
	d.key = key
	d.optErr = nil
	return nil
}

// State returns the state reached by the last Deserialize or Verify call.
func (d *Deserializer) State() State { return d.state }

// Close releases key material. The Deserializer must not be used
// afterwards.
func (d *Deserializer) Close() error {
	closeKey(d.key)
	d.key = nil
	return nil
}

// Deserialize restores the archive.
func (d *Deserializer) Deserialize() error {
	return d.DeserializeContext(context.Background())
}

// DeserializeContext restores the archive, checking ctx between files.
// Nothing is written until every file has passed its checksum; a failure
// while writing removes everything this call created.
func (d *Deserializer) DeserializeContext(ctx context.Context) (err error) {
	d.setState(StateIdle)
	defer func() {
		if err != nil {
			d.setState(StateFailed)
			d.logger.Warn("deserialize failed", "error", err)
		}
	}()

	archived, err := d.decode(ctx)
	if err != nil {
		return err
	}

	d.cfg.progress.Begin("unpack", archived.total)
	defer d.cfg.progress.End()

	r := newRestorer(d.cfg.fs, d.destination, d.logger, d.cfg.progress)
	if err := d.restore(ctx, r, archived); err != nil {
		if rbErr := r.rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	d.logger.Info("archive restored",
		"files", len(archived.records),
		"bytes", archived.total,
		"variant", archived.tags.Variant,
	)
	return nil
}

// Verify decodes the archive and checks every file's checksum without
// writing anything.
func (d *Deserializer) Verify() error {
	return d.VerifyContext(context.Background())
}

// VerifyContext is Verify with cancellation.
func (d *Deserializer) VerifyContext(ctx context.Context) (err error) {
	d.setState(StateIdle)
	defer func() {
		if err != nil {
			d.setState(StateFailed)
		}
	}()

	archived, err := d.decode(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("archive verified", "files", len(archived.records), "bytes", archived.total)
	return nil
}

func (d *Deserializer) restore(ctx context.Context, r *restorer, archived *decoded) error {
	if err := r.mkdirAll(d.destination); err != nil {
		return err
	}
	for i, record := range archived.records {
		if err := ctx.Err(); err != nil {
			return archive.NewIOError("write", d.destination, err)
		}
		if err := r.stage(record, archived.files[i]); err != nil {
			return err
		}
	}
	if err := r.commit(); err != nil {
		return err
	}
	d.setState(StateFilesWritten)

	if err := r.verify(archived.records); err != nil {
		return err
	}
	d.setState(StateVerified)
	return nil
}

// decode reads the whole archive, authenticates and decompresses the data
// section as the tags require, and verifies every file checksum.
func (d *Deserializer) decode(ctx context.Context) (*decoded, error) {
	if d.optErr != nil {
		return nil, d.optErr
	}

	raw, err := afero.ReadFile(d.cfg.fs, d.source)
	if err != nil {
		return nil, archive.NewIOError("read", d.source, err)
	}
	dec := archive.NewDecoder(raw)

	tags, err := dec.Tags()
	if err != nil {
		return nil, err
	}
	d.setState(StateHeaderRead)

	count, err := dec.FileCount()
	if err != nil {
		return nil, err
	}
	records, err := dec.Records(count)
	if err != nil {
		return nil, err
	}

	var data []byte
	if tags.Variant.Encrypted() {
		// Metadata is only trusted once the AEAD tag over it has verified.
		if data, err = d.openData(dec, tags); err != nil {
			return nil, err
		}
	} else {
		if d.key != nil {
			d.logger.Info("archive is not encrypted, ignoring passphrase")
		}
		data = dec.Rest()
	}

	total, err := archive.ValidateRecords(records)
	if err != nil {
		return nil, err
	}
	d.setState(StateMetadataRead)

	if tags.Variant.Compressed() {
		if total > math.MaxInt {
			return nil, archive.Corruptf("declared data size %d is too large", total)
		}
		if data, err = compress.Decompress(data, tags.Codec, int(total)); err != nil {
			return nil, fmt.Errorf("%w: decompress data section: %w", archive.ErrCorruptArchive, err)
		}
	}
	if uint64(len(data)) != total {
		return nil, archive.Corruptf("data section is %d bytes, metadata declares %d", len(data), total)
	}
	d.setState(StateDataDecoded)

	archived := &decoded{tags: tags, records: records, total: total}
	archived.files = splitData(data, records)
	if err := d.verifyChecksums(ctx, archived); err != nil {
		return nil, err
	}
	return archived, nil
}

// openData reads the framing after the metadata section and opens the
// sealed data section.
func (d *Deserializer) openData(dec *archive.Decoder, tags archive.FileTags) ([]byte, error) {
	if d.key == nil {
		return nil, archive.Configurationf("archive is %s and no passphrase was given", tags.Variant)
	}

	var compressedSize uint64
	if tags.Variant.Compressed() {
		var err error
		if compressedSize, err = dec.Uint64("compressed size"); err != nil {
			return nil, err
		}
	}
	aad := dec.Consumed()

	rawNonce, err := dec.Next(encryption.NonceSize, "nonce")
	if err != nil {
		return nil, err
	}
	var nonce encryption.Nonce
	copy(nonce[:], rawNonce)

	ciphertext := dec.Rest()
	if len(ciphertext) < encryption.Overhead {
		return nil, archive.Corruptf("sealed data section is %d bytes, shorter than its tag", len(ciphertext))
	}
	if tags.Variant.Compressed() && uint64(len(ciphertext)-encryption.Overhead) != compressedSize {
		return nil, archive.Corruptf("sealed data section holds %d bytes, compressed size is %d",
			len(ciphertext)-encryption.Overhead, compressedSize)
	}

	plaintext, err := encryption.Open(d.key, nonce, ciphertext, aad)
	if err != nil {
		if errors.Is(err, encryption.ErrAuthentication) {
			return nil, fmt.Errorf("%w: %w", archive.ErrAuthentication, err)
		}
		return nil, fmt.Errorf("%w: %w", archive.ErrCorruptArchive, err)
	}
	return plaintext, nil
}

// splitData slices data into per-record contents. The caller has checked
// that the sizes add up.
func splitData(data []byte, records []archive.FileRecord) [][]byte {
	files := make([][]byte, len(records))
	var offset uint64
	for i, record := range records {
		files[i] = data[offset : offset+record.Size : offset+record.Size]
		offset += record.Size
	}
	return files
}

// verifyChecksums digests every file in parallel and reports the first
// mismatch in record order.
func (d *Deserializer) verifyChecksums(ctx context.Context, archived *decoded) error {
	if err := ctx.Err(); err != nil {
		return archive.NewIOError("verify", d.source, err)
	}

	scheme := archived.tags.Checksum
	mapper := iter.Mapper[[]byte, checksum.Digest]{MaxGoroutines: d.cfg.workers}
	digests := mapper.Map(archived.files, func(content *[]byte) checksum.Digest {
		return checksum.Sum(scheme, *content)
	})

	for i, record := range archived.records {
		if digests[i] != record.Checksum {
			return &archive.IntegrityError{Path: record.Path, Expected: record.Checksum, Actual: digests[i]}
		}
	}
	return nil
}

func (d *Deserializer) setState(state State) {
	d.state = state
	d.logger.Debug("state", "state", state)
}
