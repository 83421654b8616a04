package fuseops

import (
	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/coursefs/internal/vpath"
)

// attrToStat fills a fuse.Stat_t from a vpath.Attr, per spec.md §4.6's
// getattr() contract: st_mode (dir/regular with read bits), st_ino, st_nlink,
// st_uid/gid, st_ctime/st_mtime, and st_size for regular files when known.
func attrToStat(a vpath.Attr, stat *fuse.Stat_t) {
	mode := uint32(a.Mode.Perm())
	if a.IsDir {
		mode |= fuse.S_IFDIR
	} else {
		mode |= fuse.S_IFREG
	}
	stat.Mode = mode
	stat.Ino = a.Ino
	stat.Nlink = uint32(a.Nlink)
	stat.Uid = a.Uid
	stat.Gid = a.Gid

	if !a.Ctime.IsZero() {
		stat.Ctim.Sec = a.Ctime.Unix()
		stat.Ctim.Nsec = int64(a.Ctime.Nanosecond())
	}
	if !a.Mtime.IsZero() {
		stat.Mtim.Sec = a.Mtime.Unix()
		stat.Mtim.Nsec = int64(a.Mtime.Nanosecond())
	}
	if a.HasSize {
		stat.Size = a.Size
	}
}
