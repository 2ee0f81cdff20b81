package core

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/encryption"
)

const testPassphrase = "correct horse battery staple"

// testKDF keeps Argon2id cheap; archives written with it open only with it.
var testKDF = WithKeyDerivation(encryption.KeyDerivation{Time: 1, MemoryKiB: 1024, Threads: 1})

// writeTree creates files below root. Keys are slash paths.
func writeTree(t testing.TB, fsys afero.Fs, root string, files map[string]string) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
}

// readTree returns every regular file below root keyed by slash path.
func readTree(t testing.TB, fsys afero.Fs, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := afero.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	require.NoError(t, err)
	return files
}

func exists(t testing.TB, fsys afero.Fs, path string) bool {
	t.Helper()
	_, err := fsys.Stat(path)
	if err != nil {
		require.ErrorIs(t, err, fs.ErrNotExist)
		return false
	}
	return true
}

// pack serializes src into dst with opts.
func pack(t testing.TB, fsys afero.Fs, src, dst string, opts Options) {
	t.Helper()
	s, err := NewSerializer(src, dst, WithFS(fsys), testKDF)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetOptions(opts))
	require.NoError(t, s.Serialize())
	require.Equal(t, StateFinalized, s.State())
}

// unpack deserializes src into dst with opts and returns the error.
func unpack(t testing.TB, fsys afero.Fs, src, dst string, opts Options) error {
	t.Helper()
	d, err := NewDeserializer(src, dst, WithFS(fsys), testKDF)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.SetOptions(opts))
	return d.Deserialize()
}

func sampleTree() map[string]string {
	return map[string]string{
		"a.txt":               "abc",
		"sub/b.txt":           "",
		"sub/deeper/c.bin":    string([]byte{0, 1, 2, 255, 254}),
		"sub/deeper/repeat":   string(make([]byte, 64*1024)),
		"z/with space.txt":    "spaces are fine",
		"a.txt.d/inside.json": `{"k":"v"}`,
	}
}

var variantOptions = map[string]Options{
	"plain":            {},
	"plain-blake3":     {Checksum: checksum.SchemeBLAKE3},
	"encrypted":        {Encrypt: true, Passphrase: testPassphrase},
	"lz4":              {Encrypt: true, Passphrase: testPassphrase, Compress: true, Codec: compress.CodecLZ4},
	"zstd":             {Encrypt: true, Passphrase: testPassphrase, Compress: true, Codec: compress.CodecZstd},
	"zstd-blake3":      {Encrypt: true, Passphrase: testPassphrase, Compress: true, Codec: compress.CodecZstd, Checksum: checksum.SchemeBLAKE3},
	"compress-default": {Encrypt: true, Passphrase: testPassphrase, Compress: true},
}
