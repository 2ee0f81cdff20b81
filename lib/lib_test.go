package lib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lusl/pkg/encryption"
)

func TestSerializeDeserialize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), nil, 0o644))

	cheap := WithKeyDerivation(encryption.KeyDerivation{Time: 1, MemoryKiB: 1024, Threads: 1})
	options := Options{Encrypt: true, Passphrase: "passphrase", Compress: true, Codec: CodecZstd, Checksum: ChecksumBLAKE3}

	archivePath := filepath.Join(dir, "src.lusl")
	require.NoError(t, Serialize(src, archivePath, options, cheap))

	manifest, err := Inspect(archivePath)
	require.NoError(t, err)
	assert.Len(t, manifest.Records, 2)
	assert.Equal(t, CodecZstd, manifest.Tags.Codec)

	restored := filepath.Join(dir, "restored")
	require.NoError(t, Deserialize(archivePath, restored, options, cheap))
	content, err := os.ReadFile(filepath.Join(restored, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	wrong := options
	wrong.Passphrase = "wrong"
	err = Deserialize(archivePath, filepath.Join(dir, "other"), wrong, cheap)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestSerialize_ConfigurationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := Serialize(dir, filepath.Join(dir, "x.lusl"), Options{Compress: true})
	assert.ErrorIs(t, err, ErrConfiguration)
}
