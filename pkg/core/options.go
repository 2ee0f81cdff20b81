package core

import (
	"log/slog"
	"runtime"

	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/encryption"
	"lusl/pkg/progress"
	"lusl/pkg/secret"
)

// Options selects the archive variant and its parameters.
type Options struct {
	// Encrypt seals the data section with a key derived from Passphrase.
	Encrypt    bool
	Passphrase string

	// Compress compresses the data section before sealing it. It requires
	// Encrypt.
	Compress bool
	// Codec is the compression codec; zero selects LZ4 when Compress is set.
	Codec compress.Codec

	// Checksum is the per-file digest scheme; zero is MD5.
	Checksum checksum.Scheme
}

// Option configures the environment a Serializer or Deserializer runs in.
type Option func(*config)

type config struct {
	fs       afero.Fs
	logger   *slog.Logger
	workers  int
	progress *progress.Tracker
	kdf      encryption.KeyDerivation
}

func newConfig(opts []Option) config {
	cfg := config{
		fs:      afero.NewOsFs(),
		logger:  slog.New(slog.DiscardHandler),
		workers: runtime.NumCPU(),
		kdf:     encryption.DefaultKeyDerivation,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithFS sets the filesystem used for every read and write.
func WithFS(fs afero.Fs) Option {
	return func(c *config) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWorkers bounds the number of files digested concurrently.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithProgress reports processed bytes to tracker.
func WithProgress(tracker *progress.Tracker) Option {
	return func(c *config) {
		c.progress = tracker
	}
}

// WithKeyDerivation overrides the Argon2id cost parameters. Archives can
// only be opened with the parameters they were written with.
func WithKeyDerivation(kd encryption.KeyDerivation) Option {
	return func(c *config) {
		c.kdf = kd
	}
}

// resolvedOptions is Options after defaults and consistency checks.
type resolvedOptions struct {
	tags archive.FileTags
	key  *secret.Buffer
}

// resolveWriteOptions checks opts for serialization and derives the key.
func resolveWriteOptions(opts Options, kd encryption.KeyDerivation) (resolvedOptions, error) {
	variant, err := archive.VariantFor(opts.Encrypt, opts.Compress)
	if err != nil {
		return resolvedOptions{}, err
	}

	codec := compress.CodecNone
	if opts.Compress {
		codec = opts.Codec
		if codec == compress.CodecNone {
			codec = compress.CodecLZ4
		}
	}
	tags, err := archive.NewFileTags(variant, codec, opts.Checksum)
	if err != nil {
		return resolvedOptions{}, err
	}

	resolved := resolvedOptions{tags: tags}
	if opts.Encrypt {
		if resolved.key, err = deriveKey(opts.Passphrase, kd); err != nil {
			return resolvedOptions{}, err
		}
	}
	return resolved, nil
}

// deriveKey turns a passphrase into key material, reporting every failure
// as a configuration error.
func deriveKey(passphrase string, kd encryption.KeyDerivation) (*secret.Buffer, error) {
	if passphrase == "" {
		return nil, archive.Configurationf("encryption requires a passphrase")
	}
	key, err := kd.DeriveKey(passphrase)
	if err != nil {
		return nil, archive.Configurationf("derive key: %v", err)
	}
	return key, nil
}

func closeKey(key *secret.Buffer) {
	if key != nil {
		key.Close()
	}
}
