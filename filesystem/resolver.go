package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/girvel/storagenode"
	"github.com/girvel/storagenode/internal/util"
)

// Resolver confines client-supplied relative paths to a storage root.
// It holds no state besides the canonical root and is safe for concurrent use.
type Resolver struct {
	root string // absolute, symlink-free
}

// NewResolver canonicalizes root and returns a Resolver for it.
// The root must exist and be a directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(canonical)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, &fs.PathError{Op: "resolver", Path: canonical, Err: errors.New("not a directory")}
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical storage root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve joins rel onto the root and returns the canonical absolute path.
// Traversal segments and symlinks are resolved before the containment check,
// so the result is always the root itself or a descendant of it. Components
// that do not exist yet are appended verbatim after the deepest existing
// ancestor has been canonicalized.
//
// Errors are *storagenode.Error of kind path_escape or io_failure.
func (r *Resolver) Resolve(rel string) (string, error) {
	logger := util.GetLogger("Resolver")

	if strings.ContainsRune(rel, 0) {
		return "", storagenode.NewError(storagenode.KindPathEscape, "invalid path", nil)
	}

	// Join cleans the result, so ".." can at most climb above the root here;
	// that case is caught by the containment check below.
	joined := filepath.Join(r.root, filepath.FromSlash(rel))

	canonical, err := r.canonicalize(joined)
	if err != nil {
		logger.Debug().Err(err).Str("rel", rel).Msg("Failed to canonicalize path")
		return "", err
	}
	if !within(r.root, canonical) {
		logger.Warn().Str("rel", rel).Msg("Rejected path outside of storage root")
		return "", storagenode.ErrPathEscape
	}
	return canonical, nil
}

// maxLinkHops bounds how many dangling links canonicalize follows.
const maxLinkHops = 40

// canonicalize evaluates symlinks on the longest existing prefix of p.
// A dangling link at the start of the missing tail is followed to its
// recorded target, so the caller's containment check sees where a write
// would actually land.
func (r *Resolver) canonicalize(p string) (string, error) {
	for hops := 0; hops <= maxLinkHops; hops++ {
		existing := p
		var tail []string
		for {
			resolved, err := filepath.EvalSymlinks(existing)
			if err == nil {
				if len(tail) == 0 {
					return resolved, nil
				}
				next := filepath.Join(resolved, tail[len(tail)-1])
				if _, lerr := os.Lstat(next); lerr == nil {
					target, err := os.Readlink(next)
					if err != nil {
						return "", storagenode.NewError(storagenode.KindIOFailure, "failed to resolve path", err)
					}
					if !filepath.IsAbs(target) {
						target = filepath.Join(resolved, target)
					}
					p = joinTail(target, tail[:len(tail)-1])
					break
				}
				return joinTail(resolved, tail), nil
			}
			if !isMissing(err) {
				return "", storagenode.NewError(storagenode.KindIOFailure, "failed to resolve path", err)
			}

			parent := filepath.Dir(existing)
			if parent == existing {
				// even the filesystem root is missing; nothing sane left to resolve
				return "", storagenode.NewError(storagenode.KindIOFailure, "failed to resolve path", err)
			}
			tail = append(tail, filepath.Base(existing))
			existing = parent
		}
	}
	return "", storagenode.NewError(storagenode.KindIOFailure, "too many levels of symbolic links", nil)
}

// joinTail appends tail, which is collected innermost first, onto base.
func joinTail(base string, tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		base = filepath.Join(base, tail[i])
	}
	return base
}

// within reports whether p is root or lies under it, segment-wise, so that
// "/data-evil" is not inside "/data".
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// isMissing reports whether err means a path component does not exist,
// including a regular file used as a directory along the way.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
