// Package lib provides the lusl library surface: pack a directory into one
// archive and restore it. It re-exports the core package so callers need a
// single import.
package lib

import (
	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/core"
)

// Constants for the archive format re-exported from archive
const (
	Magic   = archive.Magic         // Magic number to identify the archive
	Version = archive.FormatVersion // Archive format version
)

// Options re-exported from core
type Options = core.Options

// Option re-exported from core
type Option = core.Option

// Serializer and Deserializer re-exported from core
type (
	Serializer   = core.Serializer
	Deserializer = core.Deserializer
	Manifest     = core.Manifest
	State        = core.State
)

// Codecs and checksum schemes
const (
	CodecLZ4  = compress.CodecLZ4
	CodecZstd = compress.CodecZstd

	ChecksumMD5    = checksum.SchemeMD5
	ChecksumBLAKE3 = checksum.SchemeBLAKE3
)

// Error classes re-exported from archive
var (
	ErrConfiguration     = archive.ErrConfiguration
	ErrIO                = archive.ErrIO
	ErrUnsupportedFormat = archive.ErrUnsupportedFormat
	ErrCorruptArchive    = archive.ErrCorruptArchive
	ErrAuthentication    = archive.ErrAuthentication
	ErrIntegrity         = archive.ErrIntegrity
)

// IntegrityError re-exported from archive
type IntegrityError = archive.IntegrityError

// Environment options re-exported from core
var (
	WithFS            = core.WithFS
	WithLogger        = core.WithLogger
	WithWorkers       = core.WithWorkers
	WithProgress      = core.WithProgress
	WithKeyDerivation = core.WithKeyDerivation
)

// NewSerializer is a wrapper around core.NewSerializer
func NewSerializer(source, destination string, opts ...Option) (*Serializer, error) {
	return core.NewSerializer(source, destination, opts...)
}

// NewDeserializer is a wrapper around core.NewDeserializer
func NewDeserializer(source, destination string, opts ...Option) (*Deserializer, error) {
	return core.NewDeserializer(source, destination, opts...)
}

// Serialize packs source into destination in one call.
func Serialize(source, destination string, options Options, opts ...Option) error {
	s, err := core.NewSerializer(source, destination, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.SetOptions(options); err != nil {
		return err
	}
	return s.Serialize()
}

// Deserialize restores source into destination in one call.
func Deserialize(source, destination string, options Options, opts ...Option) error {
	d, err := core.NewDeserializer(source, destination, opts...)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.SetOptions(options); err != nil {
		return err
	}
	return d.Deserialize()
}

// Inspect is a wrapper around core.Inspect on the OS filesystem
func Inspect(path string) (*Manifest, error) {
	return core.Inspect(afero.NewOsFs(), path)
}
