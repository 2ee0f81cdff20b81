package core

import (
	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/encryption"
)

// Manifest describes an archive without opening its data section.
type Manifest struct {
	Tags    archive.FileTags
	Records []archive.FileRecord
	// TotalSize is the sum of all file sizes.
	TotalSize uint64
	// CompressedSize is the stored compressed length, set only for the
	// compressed variant.
	CompressedSize uint64
	// DataLength is the number of archive bytes after the metadata
	// section, framing included.
	DataLength int
	// ArchiveSize is the length of the whole archive file.
	ArchiveSize int
}

// Inspect reads the tags and metadata of the archive at path. For an
// encrypted archive the metadata is reported before authentication, so it
// is only as trustworthy as the file it came from.
func Inspect(fsys afero.Fs, path string) (*Manifest, error) {
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, archive.NewIOError("read", path, err)
	}

	dec := archive.NewDecoder(raw)
	header, err := dec.Header()
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Tags:        header.Tags,
		Records:     header.Records,
		TotalSize:   header.TotalSize,
		DataLength:  dec.Remaining(),
		ArchiveSize: len(raw),
	}

	switch variant := header.Tags.Variant; {
	case variant.Compressed():
		if manifest.CompressedSize, err = dec.Uint64("compressed size"); err != nil {
			return nil, err
		}
		if _, err := dec.Next(encryption.NonceSize+encryption.Overhead, "sealed data section"); err != nil {
			return nil, err
		}
	case variant.Encrypted():
		if _, err := dec.Next(encryption.NonceSize+encryption.Overhead, "sealed data section"); err != nil {
			return nil, err
		}
	default:
		if uint64(dec.Remaining()) != header.TotalSize {
			return nil, archive.Corruptf("data section is %d bytes, metadata declares %d", dec.Remaining(), header.TotalSize)
		}
	}
	return manifest, nil
}
