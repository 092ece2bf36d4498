package filesystem

import (
	"context"
	"io/fs"
	"os"

	"golang.org/x/net/webdav"

	"github.com/girvel/storagenode"
)

// DavFS exposes the storage root as a webdav.FileSystem. Every name goes
// through the Resolver and deletes go through Store.Delete, so WebDAV
// clients get the same confinement and the same non-recursive delete policy
// as the REST endpoints.
type DavFS struct {
	res   *Resolver
	store *Store
}

var _ webdav.FileSystem = (*DavFS)(nil)

func NewDavFS(res *Resolver, store *Store) *DavFS {
	return &DavFS{res: res, store: store}
}

func (d *DavFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	return d.store.fs.Mkdir(p, perm)
}

func (d *DavFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		if err := d.store.checkWritable(p); err != nil {
			return nil, toOSError(err)
		}
	}
	f, err := d.store.fs.OpenFile(p, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RemoveAll only removes files and empty directories despite its name;
// webdav.Handler reports the refusal as 405 or 403.
func (d *DavFS) RemoveAll(ctx context.Context, name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	return toOSError(d.store.Delete(ctx, p))
}

func (d *DavFS) Rename(ctx context.Context, oldName, newName string) error {
	oldP, err := d.resolve(oldName)
	if err != nil {
		return err
	}
	newP, err := d.resolve(newName)
	if err != nil {
		return err
	}
	if oldP == d.res.Root() || newP == d.res.Root() {
		return os.ErrPermission
	}
	return d.store.fs.Rename(oldP, newP)
}

func (d *DavFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return d.store.fs.Stat(p)
}

func (d *DavFS) resolve(name string) (string, error) {
	p, err := d.res.Resolve(name)
	return p, toOSError(err)
}

// toOSError maps store errors onto the fs sentinels webdav.Handler inspects.
func toOSError(err error) error {
	if err == nil {
		return nil
	}
	switch storagenode.KindOf(err) {
	case storagenode.KindNotFound:
		return fs.ErrNotExist
	case storagenode.KindPathEscape, storagenode.KindForbidden:
		return fs.ErrPermission
	case storagenode.KindConflict:
		return fs.ErrExist
	default:
		return err
	}
}
