package storagenode

import (
	"io"
	"time"
)

// EntryKind tags an item as a file or a directory.
type EntryKind string

const (
	FileKind      EntryKind = "file"
	DirectoryKind EntryKind = "directory"
	// OtherKind covers listing children that are neither, i.e. sockets,
	// devices or symlinks whose target is gone.
	OtherKind EntryKind = "other"
)

// Entry is the result of reading a path: either a *File or a *Directory.
type Entry interface {
	Kind() EntryKind
}

// File is an open regular file. Content must be closed by the consumer,
// which is expected to stream it rather than buffer it.
type File struct {
	Name    string
	Size    int64
	ModTime time.Time
	Content io.ReadSeekCloser
}

func (*File) Kind() EntryKind { return FileKind }

// DirEntry is a single immediate child of a directory.
type DirEntry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"type"`
}

// Directory is a one-level listing ordered by name.
type Directory struct {
	Entries []DirEntry
}

func (*Directory) Kind() EntryKind { return DirectoryKind }

// Names returns the child names in listing order.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		names = append(names, e.Name)
	}
	return names
}
