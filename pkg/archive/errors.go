package archive

import (
	"errors"
	"fmt"

	"lusl/pkg/checksum"
)

// Error classes. Every error returned by a serialize or deserialize
// operation matches exactly one of these with errors.Is.
var (
	// ErrConfiguration marks inconsistent options, such as compression
	// requested without encryption.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrIO marks a failed filesystem read, write, create or rename.
	ErrIO = errors.New("i/o failure")

	// ErrUnsupportedFormat marks file tags naming an unknown format,
	// version, variant, codec or checksum scheme.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrCorruptArchive marks a structural inconsistency: truncated
	// sections, declared sizes that disagree with the data, invalid paths.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrAuthentication marks an AEAD tag failure: wrong passphrase or
	// tampering.
	ErrAuthentication = errors.New("archive authentication failed")

	// ErrIntegrity marks a restored file whose digest differs from the
	// stored checksum.
	ErrIntegrity = errors.New("file integrity check failed")
)

// IOError describes a failed filesystem operation on Path. It matches both
// ErrIO and the underlying cause with errors.Is.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// NewIOError wraps err as an IOError. A nil err returns nil.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the error class and the cause.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// IntegrityError names the restored file whose content failed its checksum.
type IntegrityError struct {
	Path     string
	Expected checksum.Digest
	Actual   checksum.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch for %s: stored %s, computed %s",
		ErrIntegrity, e.Path, e.Expected, e.Actual)
}

// Is reports ErrIntegrity as this error's class.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Corruptf returns an ErrCorruptArchive with a formatted reason.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptArchive, fmt.Sprintf(format, args...))
}

// Unsupportedf returns an ErrUnsupportedFormat with a formatted reason.
func Unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fmt.Sprintf(format, args...))
}

// Configurationf returns an ErrConfiguration with a formatted reason.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
