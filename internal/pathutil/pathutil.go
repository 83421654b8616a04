// Package pathutil implements the POSIX-like path normalization, splitting
// and joining primitives shared by the virtual and real path trees.
package pathutil

import (
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Normalize collapses "." and ".." segments and strips leading/trailing
// separators. The normalized form of an all-separator or empty path is "".
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	cleaned = strings.Trim(cleaned, "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Join joins path segments with "/" and normalizes the result. Empty
// segments are dropped; a call with no segments returns "".
func Join(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	return Normalize(path.Join(segments...))
}

// Head returns the first segment of a "/"-joined path.
func Head(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// Tail returns everything after the first segment of a "/"-joined path.
// Tail of a single-segment path is "".
func Tail(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return ""
}

// Parent returns the path with its final segment removed.
func Parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Name returns the final segment of a "/"-joined path.
func Name(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// HeadSlice/TailSlice mirror Head/Tail for the []string representation used
// while a template is being expanded segment by segment.
func HeadSlice(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

// TailSlice returns segs without its first element. Tail of an empty or
// single-element slice is nil.
func TailSlice(segs []string) []string {
	if len(segs) <= 1 {
		return nil
	}
	return segs[1:]
}

// CacheBlobPath resolves the on-disk path for a cached file blob given an
// untrusted remote file id. The id comes from a RemoteCatalog implementation
// we don't control, so it is joined with securejoin rather than
// filepath.Join: a malicious or buggy catalog returning an id shaped like
// "../../etc/passwd" must not escape cacheDir.
func CacheBlobPath(cacheDir, fileID string) (string, error) {
	return securejoin.SecureJoin(cacheDir, fileID)
}
