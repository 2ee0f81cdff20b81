package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"lusl/pkg/archive"
	"lusl/pkg/checksum"
)

// errFileChanged marks a source file whose content moved under us between
// the checksum pass and the data pass.
var errFileChanged = errors.New("file changed while being archived")

// Entry is one regular file selected for an archive.
type Entry struct {
	RelPath  string // Slash-separated path within the archive
	FilePath string // Path on the source filesystem
}

// collectEntries gathers every regular file below root, sorted by archive
// path. Symlinks and other non-regular files are skipped, as is exclude,
// so an archive written inside its own source tree never contains itself.
func collectEntries(ctx context.Context, fsys afero.Fs, root, exclude string, logger *slog.Logger) ([]Entry, error) {
	excludeAbs, _ := filepath.Abs(exclude)

	var entries []Entry
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return archive.NewIOError("walk", path, err)
		}
		if err := ctx.Err(); err != nil {
			return archive.NewIOError("walk", path, err)
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			logger.Debug("skipping non-regular file", "path", path, "mode", info.Mode().Type().String())
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && abs == excludeAbs {
			logger.Debug("skipping destination archive", "path", path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return archive.NewIOError("walk", path, fmt.Errorf("relative path: %w", err))
		}
		rel = filepath.ToSlash(rel)
		if archive.ValidatePath(rel) != nil {
			return archive.NewIOError("walk", path, fmt.Errorf("file name %q cannot be stored in an archive", rel))
		}
		entries = append(entries, Entry{RelPath: rel, FilePath: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.RelPath, b.RelPath)
	})
	return entries, nil
}

// checksumEntries digests every entry with at most workers files in flight.
// Records come back in entry order regardless of completion order.
func checksumEntries(ctx context.Context, fsys afero.Fs, entries []Entry, scheme checksum.Scheme, workers int) ([]archive.FileRecord, error) {
	records := make([]archive.FileRecord, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return archive.NewIOError("read", entry.FilePath, err)
			}
			digest, size, err := hashFile(fsys, entry.FilePath, scheme)
			if err != nil {
				return err
			}
			records[i] = archive.FileRecord{Path: entry.RelPath, Size: uint64(size), Checksum: digest}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func hashFile(fsys afero.Fs, path string, scheme checksum.Scheme) (checksum.Digest, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return checksum.Digest{}, 0, archive.NewIOError("open", path, err)
	}
	defer f.Close()

	digest, size, err := checksum.SumReader(scheme, f)
	if err != nil {
		return checksum.Digest{}, 0, archive.NewIOError("read", path, err)
	}
	return digest, size, nil
}

