package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for name, opts := range variantOptions {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fsys := afero.NewMemMapFs()
			files := sampleTree()
			writeTree(t, fsys, "/src", files)

			pack(t, fsys, "/src", "/out/tree.lusl", opts)
			require.NoError(t, unpack(t, fsys, "/out/tree.lusl", "/restored", opts))

			assert.Equal(t, files, readTree(t, fsys, "/restored"))
		})
	}
}

func TestRoundTrip_OsFs(t *testing.T) {
	t.Parallel()

	fsys := afero.NewOsFs()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	files := sampleTree()
	writeTree(t, fsys, src, files)

	for name, opts := range map[string]Options{"plain": variantOptions["plain"], "zstd": variantOptions["zstd"]} {
		archivePath := filepath.Join(dir, name+".lusl")
		restored := filepath.Join(dir, "restored-"+name)

		pack(t, fsys, src, archivePath, opts)
		require.NoError(t, unpack(t, fsys, archivePath, restored, opts))
		assert.Equal(t, files, readTree(t, fsys, restored), name)

		info, err := os.Stat(filepath.Join(restored, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())
	}
}

func TestRoundTrip_EmptyDirectory(t *testing.T) {
	t.Parallel()

	for name, opts := range variantOptions {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fsys := afero.NewMemMapFs()
			require.NoError(t, fsys.MkdirAll("/src/only/dirs", 0o755))

			pack(t, fsys, "/src", "/empty.lusl", opts)
			require.NoError(t, unpack(t, fsys, "/empty.lusl", "/restored", opts))

			assert.True(t, exists(t, fsys, "/restored"))
			assert.Empty(t, readTree(t, fsys, "/restored"))

			manifest, err := Inspect(fsys, "/empty.lusl")
			require.NoError(t, err)
			assert.Empty(t, manifest.Records)
		})
	}
}

func TestSerialize_ConcreteScenario(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", map[string]string{"a.txt": "abc", "sub/b.txt": ""})
	pack(t, fsys, "/src", "/scenario.lusl", Options{})

	md5abc, _ := hex.DecodeString("900150983cd24fb0d6963f7d28e17f72")
	md5empty, _ := hex.DecodeString("d41d8cd98f00b204e9800998ecf8427e")

	var want []byte
	want = append(want, "LUSL"...)
	want = append(want, 1, 0x00, 0x00, 0x00)
	want = append(want, 2)
	want = append(want, 5)
	want = append(want, "a.txt"...)
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 3)
	want = append(want, md5abc...)
	want = append(want, 9)
	want = append(want, "sub/b.txt"...)
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, md5empty...)
	want = append(want, "abc"...)

	got, err := afero.ReadFile(fsys, "/scenario.lusl")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	manifest, err := Inspect(fsys, "/scenario.lusl")
	require.NoError(t, err)
	require.Len(t, manifest.Records, 2)
	assert.Equal(t, "a.txt", manifest.Records[0].Path)
	assert.Equal(t, "sub/b.txt", manifest.Records[1].Path)
	assert.Equal(t, 3, manifest.DataLength)

	require.NoError(t, unpack(t, fsys, "/scenario.lusl", "/restored", Options{}))
	content, err := afero.ReadFile(fsys, "/restored/sub/b.txt")
	require.NoError(t, err)
	assert.Empty(t, content)
	assert.Equal(t, checksum.Sum(checksum.SchemeMD5, nil), manifest.Records[1].Checksum)
}

func TestSerialize_Deterministic(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", sampleTree())

	pack(t, fsys, "/src", "/one.lusl", Options{})
	pack(t, fsys, "/src", "/two.lusl", Options{})
	one, err := afero.ReadFile(fsys, "/one.lusl")
	require.NoError(t, err)
	two, err := afero.ReadFile(fsys, "/two.lusl")
	require.NoError(t, err)
	assert.Equal(t, one, two)

	opts := variantOptions["zstd"]
	pack(t, fsys, "/src", "/enc-one.lusl", opts)
	pack(t, fsys, "/src", "/enc-two.lusl", opts)
	encOne, err := afero.ReadFile(fsys, "/enc-one.lusl")
	require.NoError(t, err)
	encTwo, err := afero.ReadFile(fsys, "/enc-two.lusl")
	require.NoError(t, err)

	header, err := archive.NewDecoder(encOne).Header()
	require.NoError(t, err)
	assert.Equal(t, encOne[:header.Length], encTwo[:header.Length])
	assert.NotEqual(t, encOne, encTwo, "each archive gets a fresh nonce")
}

func TestSerialize_RecordOrder(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	// Walk order visits a/ before a.txt; byte order puts a.txt first.
	writeTree(t, fsys, "/src", map[string]string{"a/x": "1", "a.txt": "2", "B": "3", "a-b": "4"})
	pack(t, fsys, "/src", "/order.lusl", Options{})

	manifest, err := Inspect(fsys, "/order.lusl")
	require.NoError(t, err)
	var paths []string
	for _, record := range manifest.Records {
		paths = append(paths, record.Path)
	}
	assert.Equal(t, []string{"B", "a-b", "a.txt", "a/x"}, paths)
}

func TestSerialize_ExcludesOwnArchive(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", map[string]string{"a.txt": "abc"})

	// The second run finds the first archive inside the source tree.
	pack(t, fsys, "/src", "/src/self.lusl", Options{})
	pack(t, fsys, "/src", "/src/self.lusl", Options{})

	manifest, err := Inspect(fsys, "/src/self.lusl")
	require.NoError(t, err)
	require.Len(t, manifest.Records, 1)
	assert.Equal(t, "a.txt", manifest.Records[0].Path)

	entries, err := afero.ReadDir(fsys, "/src")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}

func TestSerialize_SkipsSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	fsys := afero.NewOsFs()
	writeTree(t, fsys, src, map[string]string{"real.txt": "data"})
	require.NoError(t, os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")))

	archivePath := filepath.Join(dir, "links.lusl")
	pack(t, fsys, src, archivePath, Options{})

	manifest, err := Inspect(fsys, archivePath)
	require.NoError(t, err)
	require.Len(t, manifest.Records, 1)
	assert.Equal(t, "real.txt", manifest.Records[0].Path)
}

func TestSerialize_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]Options{
		"compress without encrypt":   {Compress: true},
		"encrypt without passphrase": {Encrypt: true},
		"unknown codec":              {Encrypt: true, Passphrase: testPassphrase, Compress: true, Codec: compress.Codec(9)},
		"unknown checksum":           {Checksum: checksum.Scheme(9)},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fsys := afero.NewMemMapFs()
			writeTree(t, fsys, "/src", map[string]string{"a.txt": "abc"})

			s, err := NewSerializer("/src", "/out.lusl", WithFS(fsys), testKDF)
			require.NoError(t, err)
			defer s.Close()

			err = s.SetOptions(opts)
			require.ErrorIs(t, err, archive.ErrConfiguration)

			err = s.Serialize()
			require.ErrorIs(t, err, archive.ErrConfiguration)
			assert.Equal(t, StateFailed, s.State())
			assert.False(t, exists(t, fsys, "/out.lusl"))
		})
	}
}

func TestSerialize_OptionsRecover(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", map[string]string{"a.txt": "abc"})

	s, err := NewSerializer("/src", "/out.lusl", WithFS(fsys), testKDF)
	require.NoError(t, err)
	defer s.Close()

	require.Error(t, s.SetOptions(Options{Compress: true}))
	require.NoError(t, s.SetOptions(variantOptions["lz4"]))
	require.NoError(t, s.Serialize())

	manifest, err := Inspect(fsys, "/out.lusl")
	require.NoError(t, err)
	assert.Equal(t, archive.VariantEncryptedCompressed, manifest.Tags.Variant)
	assert.Equal(t, compress.CodecLZ4, manifest.Tags.Codec)
}

func TestSerialize_ClosedSerializer(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", map[string]string{"a.txt": "abc"})

	s, err := NewSerializer("/src", "/out.lusl", WithFS(fsys), testKDF)
	require.NoError(t, err)
	require.NoError(t, s.SetOptions(variantOptions["encrypted"]))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Serialize(), archive.ErrConfiguration)
}

func TestNewSerializer_SourceErrors(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/file", []byte("x"), 0o644))

	_, err := NewSerializer("/missing", "/out.lusl", WithFS(fsys))
	assert.ErrorIs(t, err, archive.ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = NewSerializer("/file", "/out.lusl", WithFS(fsys))
	assert.ErrorIs(t, err, archive.ErrIO)
}

func TestSerialize_Cancelled(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/src", sampleTree())

	s, err := NewSerializer("/src", "/out.lusl", WithFS(fsys))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.SerializeContext(ctx)
	require.ErrorIs(t, err, archive.ErrIO)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, exists(t, fsys, "/out.lusl"))
}

// shrinkingFs truncates one file after it has been opened once, the way a
// concurrent writer would between the checksum and data passes.
type shrinkingFs struct {
	afero.Fs
	target string
	opened int
}

func (f *shrinkingFs) Open(name string) (afero.File, error) {
	if name == f.target {
		f.opened++
		if f.opened == 2 {
			if err := afero.WriteFile(f.Fs, name, []byte("changed"), 0o644); err != nil {
				return nil, err
			}
		}
	}
	return f.Fs.Open(name)
}

func TestSerialize_FileChanged(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()
	writeTree(t, base, "/src", map[string]string{"a.txt": "original content"})
	fsys := &shrinkingFs{Fs: base, target: filepath.Join("/src", "a.txt")}

	s, err := NewSerializer("/src", "/out.lusl", WithFS(fsys), WithWorkers(1))
	require.NoError(t, err)

	err = s.Serialize()
	require.ErrorIs(t, err, archive.ErrIO)
	assert.ErrorIs(t, err, errFileChanged)
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, exists(t, base, "/out.lusl"))

	entries, err := afero.ReadDir(base, "/")
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".out.lusl.tmp-"), entry.Name())
	}
}

func TestRoundTrip_UnicodePaths(t *testing.T) {
	t.Parallel()

	fsys := afero.NewOsFs()
	dir := t.TempDir()
	files := map[string]string{
		"😀-emoji-dir/emoji-file-😎.txt": "This is an emoji file.",
		"中文目录/文件.txt":                  "This is a Chinese filename.",
		"Русская-папка/файл.txt":         "This is a Russian filename.",
	}
	writeTree(t, fsys, filepath.Join(dir, "src"), files)

	opts := variantOptions["lz4"]
	pack(t, fsys, filepath.Join(dir, "src"), filepath.Join(dir, "unicode.lusl"), opts)
	require.NoError(t, unpack(t, fsys, filepath.Join(dir, "unicode.lusl"), filepath.Join(dir, "restored"), opts))
	assert.Equal(t, files, readTree(t, fsys, filepath.Join(dir, "restored")))
}

func TestRoundTrip_ConcurrentInstances(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	const instances = 5

	done := make(chan error, instances)
	for i := range instances {
		src := fmt.Sprintf("/src-%d", i)
		writeTree(t, fsys, src, map[string]string{
			"test-file.dat": strings.Repeat(fmt.Sprintf("instance %d ", i), (i+1)*1000),
		})
		go func() {
			archivePath := fmt.Sprintf("/archive-%d.lusl", i)
			s, err := NewSerializer(src, archivePath, WithFS(fsys))
			if err != nil {
				done <- err
				return
			}
			if err := s.Serialize(); err != nil {
				done <- err
				return
			}
			d, err := NewDeserializer(archivePath, fmt.Sprintf("/restored-%d", i), WithFS(fsys))
			if err != nil {
				done <- err
				return
			}
			done <- d.Deserialize()
		}()
	}
	for range instances {
		require.NoError(t, <-done)
	}

	for i := range instances {
		assert.Equal(t,
			readTree(t, fsys, fmt.Sprintf("/src-%d", i)),
			readTree(t, fsys, fmt.Sprintf("/restored-%d", i)))
	}
}
