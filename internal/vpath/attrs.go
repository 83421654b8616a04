package vpath

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentic-research/coursefs/internal/catalog"
)

// Attr is the subset of stat(2) fields spec.md §4.6's getattr names.
type Attr struct {
	Mode    os.FileMode
	IsDir   bool
	Ino     uint64
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Ctime   time.Time
	Mtime   time.Time
	HasSize bool
	Size    int64
}

// ContentsStatus is the lifecycle state of a VP's list_contents task,
// exposed as the "contents-status" extended attribute.
type ContentsStatus string

const (
	StatusUnknown   ContentsStatus = "unknown"
	StatusPending   ContentsStatus = "pending"
	StatusAvailable ContentsStatus = "available"
	StatusFailed    ContentsStatus = "failed"
)

// GetAttr renders the stat-like attributes for this node, per spec.md
// §4.6: st_mode, st_ino=hash(partial_path), st_nlink=1, process uid/gid,
// timestamps from the most specific known object, and size for regular
// files (logging and omitting it when unknown, just like the original).
func (v *VP) GetAttr(warn func(msg string)) Attr {
	a := Attr{
		Ino:   Ino(v.partialPath),
		Nlink: 1,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
	if v.isFolder {
		a.IsDir = true
		a.Mode = os.ModeDir | 0o555
	} else {
		a.Mode = 0o444
		if v.Known.File != nil && !v.Known.File.IsAccessible {
			a.Mode = 0
		}
	}

	created, changed := v.modTimes()
	if created != nil {
		a.Ctime = *created
	}
	if changed != nil {
		a.Mtime = *changed
	}

	if !v.isFolder {
		f := v.Known.File
		if f.HasSize {
			a.HasSize = true
			a.Size = f.Size
		} else if warn != nil {
			warn("size of file " + f.ID + " unknown, because it wasn't provided by the catalog")
		}
	}
	return a
}

// XAttrs returns the extended attribute map for this node: at minimum
// contents-status, plus contents-exception when status is failed. The
// status/exception are supplied by the caller, which tracks the
// list_contents task's outcome per node (this package only defines the
// shape; ownership of the cache lives in rpath, which is what actually
// memoizes list_contents).
func (v *VP) XAttrs(status ContentsStatus, exception string) map[string]string {
	attrs := map[string]string{"contents-status": string(status)}
	if status == StatusFailed && exception != "" {
		attrs["contents-exception"] = exception
	}
	return attrs
}

// OpenFile delegates to the catalog's DownloadFile for a non-folder VP, per
// spec.md §4.6's open_file contract.
func (v *VP) OpenFile(ctx context.Context) (catalog.DownloadHandle, error) {
	if v.isFolder {
		return catalog.DownloadHandle{}, fmt.Errorf("vpath: OpenFile called on folder %s", v.partialPath)
	}
	return v.tree.Catalog.DownloadFile(ctx, *v.Known.File)
}
