package archive

import (
	"encoding/binary"
	"math"

	"lusl/pkg/checksum"
)

// minRecordSize is the smallest possible encoded record: a one-byte length,
// a one-byte path, the size and the checksum.
const minRecordSize = 1 + 1 + 8 + checksum.Size

// Header is the decoded archive prefix up to the end of the metadata table.
type Header struct {
	Tags    FileTags
	Records []FileRecord
	// TotalSize is the sum of all record sizes, the plaintext data length.
	TotalSize uint64
	// Length is the encoded byte length of tags, count and records.
	Length int
}

// AppendHeader appends the tags, the file count and the metadata table.
func AppendHeader(dst []byte, tags FileTags, records []FileRecord) []byte {
	raw := tags.Bytes()
	dst = append(dst, raw[:]...)
	dst = binary.AppendUvarint(dst, uint64(len(records)))
	for _, record := range records {
		dst = AppendRecord(dst, record)
	}
	return dst
}

// AppendRecord appends one metadata record.
func AppendRecord(dst []byte, record FileRecord) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(record.Path)))
	dst = append(dst, record.Path...)
	dst = binary.BigEndian.AppendUint64(dst, record.Size)
	return append(dst, record.Checksum[:]...)
}

// AppendUint64 appends a fixed-width size field.
func AppendUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// Decoder reads archive sections from an in-memory archive. Every read is
// bounds-checked; running past the end is a corrupt archive, never a panic.
type Decoder struct {
	data   []byte
	offset int
}

// NewDecoder returns a decoder positioned at the start of data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int { return d.offset }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.offset }

// Consumed returns every byte read so far.
func (d *Decoder) Consumed() []byte { return d.data[:d.offset] }

// Rest consumes and returns every unread byte.
func (d *Decoder) Rest() []byte {
	rest := d.data[d.offset:]
	d.offset = len(d.data)
	return rest
}

// Next consumes exactly n bytes.
func (d *Decoder) Next(n int, what string) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, Corruptf("truncated %s: need %d bytes, %d left", what, n, d.Remaining())
	}
	out := d.data[d.offset : d.offset+n]
	d.offset += n
	return out, nil
}

// Uint64 consumes a fixed-width big-endian integer.
func (d *Decoder) Uint64(what string) (uint64, error) {
	raw, err := d.Next(8, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Uvarint consumes a variable-width integer.
func (d *Decoder) Uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(d.data[d.offset:])
	switch {
	case n == 0:
		return 0, Corruptf("truncated %s", what)
	case n < 0:
		return 0, Corruptf("%s overflows 64 bits", what)
	}
	d.offset += n
	return v, nil
}

// Tags consumes and validates the file tags. Nothing after the tags is
// examined when they are rejected.
func (d *Decoder) Tags() (FileTags, error) {
	if d.Remaining() < TagsSize {
		// Too short to even name a format.
		return FileTags{}, Unsupportedf("archive is %d bytes, shorter than the %d byte file tags", d.Remaining(), TagsSize)
	}
	var raw [TagsSize]byte
	copy(raw[:], d.data[d.offset:])
	tags, err := ParseFileTags(raw)
	if err != nil {
		return FileTags{}, err
	}
	d.offset += TagsSize
	return tags, nil
}

// FileCount consumes the file count and rejects counts the remaining bytes
// could not possibly hold.
func (d *Decoder) FileCount() (uint64, error) {
	count, err := d.Uvarint("file count")
	if err != nil {
		return 0, err
	}
	if count > uint64(d.Remaining()/minRecordSize) {
		return 0, Corruptf("file count %d exceeds what %d remaining bytes can hold", count, d.Remaining())
	}
	return count, nil
}

// Record consumes one metadata record.
func (d *Decoder) Record() (FileRecord, error) {
	length, err := d.Uvarint("path length")
	if err != nil {
		return FileRecord{}, err
	}
	if length > math.MaxInt32 {
		return FileRecord{}, Corruptf("path length %d", length)
	}
	path, err := d.Next(int(length), "path")
	if err != nil {
		return FileRecord{}, err
	}
	size, err := d.Uint64("file size")
	if err != nil {
		return FileRecord{}, err
	}
	digest, err := d.Next(checksum.Size, "checksum")
	if err != nil {
		return FileRecord{}, err
	}

	record := FileRecord{Path: string(path), Size: size}
	copy(record.Checksum[:], digest)
	return record, nil
}

// Records consumes exactly count records, regardless of how many bytes
// follow them.
func (d *Decoder) Records(count uint64) ([]FileRecord, error) {
	records := make([]FileRecord, 0, count)
	for index := uint64(0); index < count; index++ {
		record, err := d.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Header consumes tags, file count and metadata table, and validates the
// records.
func (d *Decoder) Header() (Header, error) {
	start := d.offset
	tags, err := d.Tags()
	if err != nil {
		return Header{}, err
	}
	count, err := d.FileCount()
	if err != nil {
		return Header{}, err
	}
	records, err := d.Records(count)
	if err != nil {
		return Header{}, err
	}
	total, err := ValidateRecords(records)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Tags:      tags,
		Records:   records,
		TotalSize: total,
		Length:    d.offset - start,
	}, nil
}
