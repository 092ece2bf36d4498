package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/girvel/storagenode"
	"github.com/girvel/storagenode/internal/util"
)

// Store performs read, write and delete operations on paths already
// confined by a [Resolver]. It keeps no index of the tree: every call
// inspects the live filesystem, and concurrent calls on the same path are
// not coordinated beyond what the filesystem itself guarantees.
type Store struct {
	fs        afero.Fs
	root      string
	chunkSize int
}

// NewStore returns a Store over fsys. root must be the canonical storage
// root (see [Resolver.Root]) and chunkSize must be positive.
func NewStore(fsys afero.Fs, root string, chunkSize int) *Store {
	return &Store{fs: fsys, root: root, chunkSize: chunkSize}
}

// NewOsStore returns a Store on the host filesystem rooted at res's root.
func NewOsStore(res *Resolver, chunkSize int) *Store {
	return NewStore(afero.NewOsFs(), res.Root(), chunkSize)
}

// Root returns the storage root the store protects.
func (s *Store) Root() string {
	return s.root
}

// ChunkSize returns the buffer size used for streaming.
func (s *Store) ChunkSize() int {
	return s.chunkSize
}

// Read returns a *storagenode.File holding an open handle for regular files,
// or a *storagenode.Directory listing the immediate children of a directory.
// The caller must close File.Content.
func (s *Store) Read(ctx context.Context, path string) (storagenode.Entry, error) {
	logger := util.CtxLogger(ctx, "Store.Read")
	if !within(s.root, path) {
		return nil, storagenode.ErrPathEscape
	}

	st, err := s.fs.Stat(path)
	if err != nil {
		if isMissing(err) {
			return nil, storagenode.ErrNotFound
		}
		logger.Error().Err(err).Msg("Failed to stat item")
		return nil, storagenode.NewError(storagenode.KindIOFailure, "failed to read item", err)
	}

	switch {
	case st.IsDir():
		entries, err := s.list(path)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list directory")
			return nil, storagenode.NewError(storagenode.KindIOFailure, "failed to list directory", err)
		}
		logger.Trace().Int("entries", len(entries)).Msg("Listed directory")
		return &storagenode.Directory{Entries: entries}, nil

	case st.Mode().IsRegular():
		f, err := s.fs.Open(path)
		if err != nil {
			if isMissing(err) {
				return nil, storagenode.ErrNotFound
			}
			logger.Error().Err(err).Msg("Failed to open file")
			return nil, storagenode.NewError(storagenode.KindIOFailure, "failed to open file", err)
		}
		return &storagenode.File{
			Name:    st.Name(),
			Size:    st.Size(),
			ModTime: st.ModTime(),
			Content: f,
		}, nil

	default:
		return nil, storagenode.NewError(storagenode.KindConflict, "unsupported item type", nil)
	}
}

// list returns one level of children sorted by name, each tagged with its
// kind. Symlinked children are tagged by their target when it lies
// inside the root, and as other otherwise.
func (s *Store) list(dir string) ([]storagenode.DirEntry, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}
	entries := make([]storagenode.DirEntry, 0, len(infos))
	for _, info := range infos {
		mode := info.Mode()
		if mode&os.ModeSymlink != 0 {
			mode = s.linkTargetMode(filepath.Join(dir, info.Name()))
		}
		entries = append(entries, storagenode.DirEntry{Name: info.Name(), Kind: kindOf(mode)})
	}
	return entries, nil
}

// linkTargetMode returns the mode of the link's canonical target. Targets
// outside the root or missing report as irregular so the listing says
// nothing about them.
func (s *Store) linkTargetMode(link string) fs.FileMode {
	target, err := filepath.EvalSymlinks(link)
	if err != nil || !within(s.root, target) {
		return fs.ModeIrregular
	}
	st, err := s.fs.Stat(target)
	if err != nil {
		return fs.ModeIrregular
	}
	return st.Mode()
}

func kindOf(mode fs.FileMode) storagenode.EntryKind {
	switch {
	case mode.IsDir():
		return storagenode.DirectoryKind
	case mode.IsRegular():
		return storagenode.FileKind
	default:
		return storagenode.OtherKind
	}
}

// Write streams r into the file at path, creating missing parent directories
// and truncating any existing file. It fails with a conflict when a
// directory occupies path or a file occupies one of its ancestors.
//
// On a failed or cancelled copy the partially written file is left on disk.
func (s *Store) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	logger := util.CtxLogger(ctx, "Store.Write")
	if !within(s.root, path) {
		return 0, storagenode.ErrPathEscape
	}
	if err := s.checkWritable(path); err != nil {
		return 0, err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return 0, storagenode.NewError(storagenode.KindConflict, "a file exists where a directory is expected", err)
		}
		logger.Error().Err(err).Msg("Failed to create parent directories")
		return 0, storagenode.NewError(storagenode.KindIOFailure, "failed to create parent directories", err)
	}

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if errors.Is(err, syscall.EISDIR) {
			return 0, storagenode.NewError(storagenode.KindConflict, "a directory exists at this path", err)
		}
		logger.Error().Err(err).Msg("Failed to open file for writing")
		return 0, storagenode.NewError(storagenode.KindIOFailure, "failed to open file for writing", err)
	}

	n, err := CopyChunked(ctx, f, r, s.chunkSize)
	cerr := f.Close()
	if err != nil {
		logger.Warn().Err(err).Int64("written", n).Msg("Upload aborted; partial file left in place")
		return n, storagenode.NewError(storagenode.KindIOFailure, "failed to write file", err)
	}
	if cerr != nil {
		logger.Error().Err(cerr).Msg("Failed to close written file")
		return n, storagenode.NewError(storagenode.KindIOFailure, "failed to write file", cerr)
	}
	logger.Debug().Int64("bytes", n).Msg("Wrote file")
	return n, nil
}

// checkWritable walks from the root towards path and reports name
// collisions between files and directories.
func (s *Store) checkWritable(path string) error {
	if path == s.root {
		return storagenode.NewError(storagenode.KindConflict, "a directory exists at this path", nil)
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return storagenode.ErrPathEscape
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := s.root
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		st, err := s.fs.Stat(cur)
		if err != nil {
			if isMissing(err) {
				return nil // MkdirAll creates the rest
			}
			return storagenode.NewError(storagenode.KindIOFailure, "failed to inspect path", err)
		}
		last := i == len(parts)-1
		switch {
		case last && st.IsDir():
			return storagenode.NewError(storagenode.KindConflict, "a directory exists at this path", nil)
		case last && !st.Mode().IsRegular():
			return storagenode.NewError(storagenode.KindConflict, "unsupported item type", nil)
		case !last && !st.IsDir():
			return storagenode.NewError(storagenode.KindConflict, "a file exists where a directory is expected", nil)
		}
	}
	return nil
}

// Delete removes the file or empty directory at path. Deleting the root is
// forbidden and non-empty directories are never removed.
func (s *Store) Delete(ctx context.Context, path string) error {
	logger := util.CtxLogger(ctx, "Store.Delete")
	if path == s.root {
		return storagenode.NewError(storagenode.KindForbidden, "root folder deletion is forbidden", nil)
	}
	if !within(s.root, path) {
		return storagenode.ErrPathEscape
	}

	st, err := s.lstat(path)
	if err != nil {
		if isMissing(err) {
			return storagenode.ErrNotFound
		}
		logger.Error().Err(err).Msg("Failed to stat item")
		return storagenode.NewError(storagenode.KindIOFailure, "failed to inspect item", err)
	}

	if st.IsDir() {
		empty, err := s.isEmptyDir(path)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read directory")
			return storagenode.NewError(storagenode.KindIOFailure, "failed to read directory", err)
		}
		if !empty {
			return storagenode.NewError(storagenode.KindConflict, "directory is not empty", nil)
		}
	}

	if err := s.fs.Remove(path); err != nil {
		switch {
		case isMissing(err):
			return storagenode.ErrNotFound
		case errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST):
			// a child appeared after the emptiness check
			return storagenode.NewError(storagenode.KindConflict, "directory is not empty", err)
		}
		logger.Error().Err(err).Msg("Failed to remove item")
		return storagenode.NewError(storagenode.KindIOFailure, "failed to delete item", err)
	}
	logger.Debug().Bool("dir", st.IsDir()).Msg("Deleted item")
	return nil
}

func (s *Store) lstat(path string) (fs.FileInfo, error) {
	if l, ok := s.fs.(afero.Lstater); ok {
		st, _, err := l.LstatIfPossible(path)
		return st, err
	}
	return s.fs.Stat(path)
}

func (s *Store) isEmptyDir(path string) (bool, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}
