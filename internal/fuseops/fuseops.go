// Package fuseops implements the FUSE operations layer (spec.md §4.9): a
// winfsp/cgofuse FileSystemInterface built over the RealPath tree, the
// download cache and the single-goroutine scheduler.
package fuseops

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/download"
	"github.com/agentic-research/coursefs/internal/pathutil"
	"github.com/agentic-research/coursefs/internal/rpath"
	"github.com/agentic-research/coursefs/internal/scheduler"
)

// handle is the open-file-table entry: process-wide mapping from kernel
// file-handle to (Download, local OS file) per spec.md §3's Glossary.
type handle struct {
	mu   sync.Mutex
	dl   *download.Download
	file *os.File
}

// FS is the cgofuse FileSystemInterface implementation. Every method
// submits its work to the scheduler and blocks for the result, per spec.md
// §4.8/§4.9.
type FS struct {
	fuse.FileSystemBase

	sched     *scheduler.Scheduler
	root      *rpath.RP
	downloads *download.Cache
	log       *logrus.Entry

	mu      sync.Mutex
	nextFh  uint64
	handles map[uint64]*handle
}

// New builds an FS over an already-started scheduler and root RP.
func New(sched *scheduler.Scheduler, root *rpath.RP, downloads *download.Cache, log *logrus.Entry) *FS {
	return &FS{
		sched:     sched,
		root:      root,
		downloads: downloads,
		log:       log,
		handles:   make(map[uint64]*handle),
	}
}

func (fs *FS) resolve(path string) (*rpath.RP, error) {
	res, err := fs.sched.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return fs.root.Resolve(ctx, pathutil.Normalize(path))
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(*rpath.RP), nil
}

func toErrno(err error) int {
	switch {
	case err == nil:
		return 0
	case isNotFound(err):
		return -fuse.ENOENT
	case isForbidden(err):
		return -fuse.EACCES
	case isAuth(err):
		return -fuse.EACCES
	case errors.Is(err, catalog.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return -fuse.ETIMEDOUT
	case errors.Is(err, catalog.ErrDisconnected):
		return -fuse.EHOSTUNREACH
	case errors.Is(err, catalog.ErrCancelled), errors.Is(err, context.Canceled):
		return -fuse.ECANCELED
	case errors.Is(err, catalog.ErrProtocol):
		return -fuse.EINVAL
	default:
		return -fuse.EIO
	}
}

func isNotFound(err error) bool  { return errors.Is(err, catalog.ErrNotFound) }
func isForbidden(err error) bool { return errors.Is(err, catalog.ErrForbidden) }
func isAuth(err error) bool      { return errors.Is(err, catalog.ErrAuth) }

// Getattr implements lookup/getattr: resolve(path) -> getattr(), ENOENT on
// a nil resolution (spec.md §4.9).
func (fs *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err)
	}
	if rp == nil {
		return -fuse.ENOENT
	}
	a := rp.GetAttr(func(msg string) { fs.log.Warn(msg) })
	attrToStat(a, stat)
	return 0
}

// Opendir resolves path and fails with ENOTDIR if it isn't a folder.
func (fs *FS) Opendir(path string) (int, uint64) {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err), 0
	}
	if rp == nil {
		return -fuse.ENOENT, 0
	}
	if !rp.IsFolder {
		return -fuse.ENOTDIR, 0
	}
	return 0, 0
}

// Readdir implements readdir: resolve + list_contents, emitting "." and
// ".." plus every child's final path component (spec.md §4.9).
func (fs *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err)
	}
	if rp == nil {
		return -fuse.ENOENT
	}
	if !rp.IsFolder {
		return -fuse.ENOTDIR
	}

	children, err := fs.sched.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return rp.ListContents(ctx)
	})
	if err != nil {
		return toErrno(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, c := range children.([]*rpath.RP) {
		fill(pathutil.Name(c.Path), nil, 0)
	}
	return 0
}

// Access always succeeds: the remote catalog, not local permission bits,
// governs real accessibility, matching the original VP.access no-op.
func (fs *FS) Access(path string, mask uint32) int {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err)
	}
	if rp == nil {
		return -fuse.ENOENT
	}
	return 0
}

// Open implements open(path, flags): EISDIR for folders; otherwise starts
// (or joins) the file's Download, awaits readability, opens the local
// cache file, and registers a handle.
func (fs *FS) Open(path string, flags int) (int, uint64) {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err), 0
	}
	if rp == nil {
		return -fuse.ENOENT, 0
	}
	if rp.IsFolder {
		return -fuse.EISDIR, 0
	}

	f, ok := rp.File()
	if !ok {
		return -fuse.EIO, 0
	}

	// debug correlation id for this open, not the kernel file handle: the
	// real handle callers see is the incrementing fhID below, matching
	// spec.md's "the kernel, not this driver, owns file-handle identity".
	opID := uuid.NewString()
	fs.log.WithFields(logrus.Fields{"op": "open", "path": path, "op_id": opID}).Debug("opening file")

	dl, err := fs.downloads.Get(f.ID)
	if err != nil {
		return -fuse.EIO, 0
	}

	_, err = fs.sched.Submit(context.Background(), func(ctx context.Context) (any, error) {
		dh, err := rp.OpenFile(ctx)
		if err != nil {
			return nil, err
		}
		return nil, dl.StartLoading(ctx, dh)
	})
	if err != nil {
		return toErrno(err), 0
	}
	if err := dl.AwaitReadable(context.Background(), 0, 0); err != nil {
		return toErrno(err), 0
	}

	osFile, err := os.Open(dl.LocalPath)
	if err != nil {
		return -fuse.EIO, 0
	}

	fs.mu.Lock()
	fs.nextFh++
	fhID := fs.nextFh
	fs.handles[fhID] = &handle{dl: dl, file: osFile}
	fs.mu.Unlock()

	return 0, fhID
}

// Read implements read(path, len, off, fh): await readable, then
// seek+read under the handle's lock (spec.md §4.9/§5's per-fh lock).
func (fs *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	fs.mu.Lock()
	h, ok := fs.handles[fh]
	fs.mu.Unlock()
	if !ok {
		return -fuse.EIO
	}

	if err := h.dl.AwaitReadable(context.Background(), ofst, int64(len(buff))); err != nil {
		return toErrno(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.ReadAt(buff, ofst)
	if err != nil && !errors.Is(err, io.EOF) {
		return -fuse.EIO
	}
	return n
}

// Release closes and unregisters an open-file handle.
func (fs *FS) Release(path string, fh uint64) int {
	fs.mu.Lock()
	h, ok := fs.handles[fh]
	delete(fs.handles, fh)
	fs.mu.Unlock()
	if !ok {
		return -fuse.EIO
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Flush and Fsync both resolve to the same fsync-the-handle behaviour
// (spec.md §4.9: "flush/fsync -> fsync(fh)").
func (fs *FS) Flush(path string, fh uint64) int   { return fs.fsync(fh) }
func (fs *FS) Fsync(path string, datasync bool, fh uint64) int {
	return fs.fsync(fh)
}

func (fs *FS) fsync(fh uint64) int {
	fs.mu.Lock()
	h, ok := fs.handles[fh]
	fs.mu.Unlock()
	if !ok {
		return -fuse.EIO
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Sync(); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Getxattr/Listxattr expose an RP's extended attribute map; a missing
// attribute returns ENODATA (see noAttrErrno).
func (fs *FS) Getxattr(path string, name string) (int, []byte) {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err), nil
	}
	if rp == nil {
		return -fuse.ENOENT, nil
	}
	attrs := xattrsFor(rp)
	val, ok := attrs[name]
	if !ok {
		return -noAttrErrno(), nil
	}
	return 0, []byte(val)
}

func (fs *FS) Listxattr(path string, fill func(name string) bool) int {
	rp, err := fs.resolve(path)
	if err != nil {
		return toErrno(err)
	}
	if rp == nil {
		return -fuse.ENOENT
	}
	for name := range xattrsFor(rp) {
		if !fill(name) {
			break
		}
	}
	return 0
}

// xattrsFor reports a single contents-status attribute at RP granularity:
// "available" for every folder and "unknown" for every file. It does not
// look at whether list_contents has run, is pending or failed, and it never
// reports a contents-exception attribute.
func xattrsFor(rp *rpath.RP) map[string]string {
	status := "unknown"
	if rp.IsFolder {
		status = "available"
	}
	return map[string]string{"contents-status": status}
}

// noAttrErrno returns ENODATA on every platform. On Linux this is the same
// errno value as ENOATTR; on platforms where ENOATTR is a distinct value
// (BSD/Darwin), that value is not used.
func noAttrErrno() int {
	return fuse.ENODATA
}

