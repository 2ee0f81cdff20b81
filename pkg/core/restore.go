package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"

	"lusl/pkg/archive"
	"lusl/pkg/progress"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// restorer writes a verified file set below root in two phases. Stage
// writes every file to a temporary name beside its target; commit renames
// them into place. Rollback removes everything this restorer created.
type restorer struct {
	fs       afero.Fs
	root     string
	logger   *slog.Logger
	progress *progress.Tracker

	createdDirs  []string
	staged       []stagedFile
	createdFiles []string
}

type stagedFile struct {
	tmp    string
	target string
	record archive.FileRecord
	// existed is set when target was present before this restore.
	existed bool
}

func newRestorer(fsys afero.Fs, root string, logger *slog.Logger, tracker *progress.Tracker) *restorer {
	return &restorer{fs: fsys, root: root, logger: logger, progress: tracker}
}

// targetPath maps an archive path below root.
func (r *restorer) targetPath(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// mkdirAll creates dir and any missing parents, remembering the ones it
// created.
func (r *restorer) mkdirAll(dir string) error {
	var missing []string
	for current := dir; ; {
		info, err := r.fs.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return archive.NewIOError("mkdir", current, errors.New("exists and is not a directory"))
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return archive.NewIOError("stat", current, err)
		}
		missing = append(missing, current)
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	for _, d := range slices.Backward(missing) {
		if err := r.fs.Mkdir(d, dirPerm); err != nil {
			return archive.NewIOError("mkdir", d, err)
		}
		r.createdDirs = append(r.createdDirs, d)
	}
	return nil
}

// stage writes data to a temporary file in the target's directory.
func (r *restorer) stage(record archive.FileRecord, data []byte) error {
	target := r.targetPath(record.Path)
	dir := filepath.Dir(target)
	if err := r.mkdirAll(dir); err != nil {
		return err
	}

	existed := false
	if info, err := r.fs.Stat(target); err == nil {
		if info.IsDir() {
			return archive.NewIOError("create", target, errors.New("a directory is in the way"))
		}
		existed = true
	}

	tmp, err := afero.TempFile(r.fs, dir, ".lusl-restore-*")
	if err != nil {
		return archive.NewIOError("create", dir, err)
	}
	r.staged = append(r.staged, stagedFile{tmp: tmp.Name(), target: target, record: record, existed: existed})

	w := &progress.Writer{W: tmp, Tracker: r.progress}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return archive.NewIOError("write", target, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return archive.NewIOError("sync", target, err)
	}
	if err := tmp.Close(); err != nil {
		return archive.NewIOError("close", target, err)
	}
	if err := r.fs.Chmod(tmp.Name(), filePerm); err != nil {
		return archive.NewIOError("chmod", target, err)
	}
	return nil
}

// commit renames every staged file over its target.
func (r *restorer) commit() error {
	for i, staged := range r.staged {
		if err := r.fs.Rename(staged.tmp, staged.target); err != nil {
			return archive.NewIOError("rename", staged.target, err)
		}
		r.staged[i].tmp = ""
		if !staged.existed {
			r.createdFiles = append(r.createdFiles, staged.target)
		}
	}
	r.staged = nil
	return nil
}

// verify checks every committed file on disk against its recorded size.
func (r *restorer) verify(records []archive.FileRecord) error {
	for _, record := range records {
		target := r.targetPath(record.Path)
		info, err := r.fs.Stat(target)
		if err != nil {
			return archive.NewIOError("stat", target, err)
		}
		if uint64(info.Size()) != record.Size {
			return archive.NewIOError("verify", target,
				fmt.Errorf("size on disk %d, recorded %d", info.Size(), record.Size))
		}
	}
	return nil
}

// rollback removes temporary files, files created by commit and every
// directory this restorer made, deepest first. Files that existed before
// and were already replaced keep their new content.
func (r *restorer) rollback() error {
	var errs []error
	for _, staged := range r.staged {
		if staged.tmp == "" {
			continue
		}
		if err := r.fs.Remove(staged.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, archive.NewIOError("remove", staged.tmp, err))
		}
	}
	for _, path := range slices.Backward(r.createdFiles) {
		if err := r.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, archive.NewIOError("remove", path, err))
		}
	}
	for _, dir := range slices.Backward(r.createdDirs) {
		if err := r.fs.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, archive.NewIOError("remove", dir, err))
		}
	}
	r.staged, r.createdFiles, r.createdDirs = nil, nil, nil

	if len(errs) > 0 {
		r.logger.Warn("rollback incomplete", "errors", len(errs))
	}
	return errors.Join(errs...)
}
