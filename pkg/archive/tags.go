// Package archive defines the lusl container format: the fixed file tags,
// the file count, the metadata table of FileRecords and the framing of the
// data section for each variant.
//
// Layout, all fixed-width integers big-endian:
//
//	plain                 tags | count | records | data
//	encrypted             tags | count | records | nonce | seal(data)
//	encrypted+compressed  tags | count | records | compressed_size | nonce | seal(compress(data))
//
// A record is uvarint(len(path)) | path | uint64 size | 16-byte checksum.
package archive

import (
	"bytes"
	"fmt"

	"lusl/pkg/checksum"
	"lusl/pkg/compress"
)

// Magic identifies a lusl archive.
const Magic = "LUSL"

// FormatVersion is the only format version this package reads and writes.
const FormatVersion byte = 1

// TagsSize is the fixed width of the encoded file tags.
const TagsSize = 8

// Variant flag bits. Compression only ever appears together with
// encryption.
const (
	flagEncrypted  byte = 0x80
	flagCompressed byte = 0x40
)

// Variant is one of the documented data-section layouts.
type Variant byte

const (
	VariantPlain               = Variant(0)
	VariantEncrypted           = Variant(flagEncrypted)
	VariantEncryptedCompressed = Variant(flagEncrypted | flagCompressed)
)

// VariantFor maps option flags to a variant. Compression without
// encryption has no layout and is a configuration error.
func VariantFor(encrypt, compressed bool) (Variant, error) {
	switch {
	case encrypt && compressed:
		return VariantEncryptedCompressed, nil
	case encrypt:
		return VariantEncrypted, nil
	case compressed:
		return 0, Configurationf("compression requires encryption")
	default:
		return VariantPlain, nil
	}
}

// Encrypted reports whether the data section is sealed.
func (v Variant) Encrypted() bool { return byte(v)&flagEncrypted != 0 }

// Compressed reports whether the data section is compressed before sealing.
func (v Variant) Compressed() bool { return byte(v)&flagCompressed != 0 }

// Valid reports whether v is one of the three documented variants.
func (v Variant) Valid() bool {
	switch v {
	case VariantPlain, VariantEncrypted, VariantEncryptedCompressed:
		return true
	}
	return false
}

func (v Variant) String() string {
	switch v {
	case VariantPlain:
		return "plain"
	case VariantEncrypted:
		return "encrypted"
	case VariantEncryptedCompressed:
		return "encrypted+compressed"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(v))
	}
}

// FileTags is the decoded fixed-width archive prefix.
type FileTags struct {
	Version  byte
	Variant  Variant
	Codec    compress.Codec
	Checksum checksum.Scheme
}

// NewFileTags returns tags for the current format version after checking
// that the combination is writable.
func NewFileTags(variant Variant, codec compress.Codec, scheme checksum.Scheme) (FileTags, error) {
	tags := FileTags{Version: FormatVersion, Variant: variant, Codec: codec, Checksum: scheme}
	if err := tags.validate(); err != nil {
		return FileTags{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return tags, nil
}

// Bytes encodes the tags.
func (t FileTags) Bytes() [TagsSize]byte {
	var out [TagsSize]byte
	copy(out[:4], Magic)
	out[4] = t.Version
	out[5] = byte(t.Variant)
	out[6] = byte(t.Codec)
	out[7] = byte(t.Checksum)
	return out
}

// ParseFileTags decodes and validates tags. Every byte is checked against
// the known set before the caller is allowed to look further into the
// archive.
func ParseFileTags(raw [TagsSize]byte) (FileTags, error) {
	if !bytes.Equal(raw[:4], []byte(Magic)) {
		return FileTags{}, Unsupportedf("bad magic %q", raw[:4])
	}
	tags := FileTags{
		Version:  raw[4],
		Variant:  Variant(raw[5]),
		Codec:    compress.Codec(raw[6]),
		Checksum: checksum.Scheme(raw[7]),
	}
	if err := tags.validate(); err != nil {
		return FileTags{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return tags, nil
}

func (t FileTags) validate() error {
	if t.Version != FormatVersion {
		return fmt.Errorf("format version %d, supported %d", t.Version, FormatVersion)
	}
	if !t.Variant.Valid() {
		return fmt.Errorf("variant flags 0x%02x", byte(t.Variant))
	}
	if !t.Codec.Valid() {
		return fmt.Errorf("compression codec %s", t.Codec)
	}
	if t.Variant.Compressed() != (t.Codec != compress.CodecNone) {
		return fmt.Errorf("compression codec %s does not match variant %s", t.Codec, t.Variant)
	}
	if !t.Checksum.Valid() {
		return fmt.Errorf("checksum scheme %s", t.Checksum)
	}
	return nil
}
