package archive

import (
	"math"
	"strings"

	"lusl/pkg/checksum"
)

// FileRecord describes one stored file.
type FileRecord struct {
	// Path is the slash-separated path relative to the archive root.
	Path string
	// Size is the length of the original content.
	Size uint64
	// Checksum is the digest of the original content.
	Checksum checksum.Digest
}

// Segments returns the path as its ordered segments.
func (r FileRecord) Segments() []string {
	return strings.Split(r.Path, "/")
}

// JoinSegments builds a record path from segments, validating each one.
func JoinSegments(segments ...string) (string, error) {
	path := strings.Join(segments, "/")
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// ValidatePath checks that path is a clean relative path that cannot escape
// the restore root.
func ValidatePath(path string) error {
	if path == "" {
		return Corruptf("empty path")
	}
	for _, segment := range strings.Split(path, "/") {
		switch {
		case segment == "":
			return Corruptf("path %q has an empty segment", path)
		case segment == "." || segment == "..":
			return Corruptf("path %q has a relative segment", path)
		case strings.ContainsAny(segment, "\\\x00"):
			return Corruptf("path %q has a forbidden character", path)
		}
	}
	return nil
}

// ValidateRecords checks every path, rejects duplicates and file/directory
// clashes, and returns the total content size.
func ValidateRecords(records []FileRecord) (uint64, error) {
	files := make(map[string]struct{}, len(records))
	dirs := make(map[string]struct{})
	var total uint64

	for _, record := range records {
		if err := ValidatePath(record.Path); err != nil {
			return 0, err
		}
		if _, ok := files[record.Path]; ok {
			return 0, Corruptf("duplicate path %q", record.Path)
		}
		if _, ok := dirs[record.Path]; ok {
			return 0, Corruptf("path %q is both a file and a directory", record.Path)
		}
		files[record.Path] = struct{}{}

		for index := strings.IndexByte(record.Path, '/'); index >= 0; {
			parent := record.Path[:index]
			if _, ok := files[parent]; ok {
				return 0, Corruptf("path %q is both a file and a directory", parent)
			}
			dirs[parent] = struct{}{}
			next := strings.IndexByte(record.Path[index+1:], '/')
			if next < 0 {
				break
			}
			index += next + 1
		}

		if record.Size > math.MaxUint64-total {
			return 0, Corruptf("total size overflows")
		}
		total += record.Size
	}
	return total, nil
}
