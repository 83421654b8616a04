// Package rpath implements RealPath, the wrapper node over one or more
// VirtualPaths that render to the same disk path (spec.md §4.7). It is
// what the FUSE operations layer actually resolves and lists against.
package rpath

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/pathutil"
	"github.com/agentic-research/coursefs/internal/vpath"
)

// RP groups every VP that currently renders to the same Path. Files never
// alias (len(GeneratingVPs) > 1 implies every VP is a folder).
type RP struct {
	Parent         *RP
	Path           string
	GeneratingVPs  []*vpath.VP
	IsFolder       bool

	mu            sync.Mutex
	contents      []*RP
	contentsErr   error
	haveContents  bool
	children      map[string]*RP // keyed by rendered path, populated by list_contents
}

// New builds an RP from a set of VPs that must already share one rendered
// path, validating the "files don't alias" invariant from spec.md §3.
func New(parent *RP, vps []*vpath.VP) (*RP, error) {
	if len(vps) == 0 {
		return nil, fmt.Errorf("rpath: New called with no generating VPs")
	}
	path := vps[0].PartialPath()
	folder := vps[0].IsFolder()
	for _, v := range vps[1:] {
		if v.PartialPath() != path {
			return nil, fmt.Errorf("rpath: generating VPs disagree on path (%q vs %q)", path, v.PartialPath())
		}
		if v.IsFolder() != folder {
			return nil, fmt.Errorf("rpath: generating VPs disagree on folder-ness for %q", path)
		}
	}
	if len(vps) > 1 && !folder {
		return nil, fmt.Errorf("rpath: %d non-folder VPs alias to the same path %q; files may not alias", len(vps), path)
	}
	return &RP{Parent: parent, Path: path, GeneratingVPs: vps, IsFolder: folder}, nil
}

// IsRoot reports whether this RP has no parent.
func (r *RP) IsRoot() bool { return r.Parent == nil }

func (r *RP) String() string {
	if len(r.GeneratingVPs) > 1 {
		return fmt.Sprintf("RP(%s *%d)", r.Path, len(r.GeneratingVPs))
	}
	return fmt.Sprintf("RP(%s)", r.Path)
}

// ListContents implements spec.md §4.7: it collects every VP that renders
// to r.Path, repeatedly flattens "no-progress" VPs (ones whose
// list_contents produced a child still at r.Path, e.g. a generic
// course-root wrapper folder) until none remain, then groups the final set
// by rendered path into child RPs. Successful results are memoized on r and
// cleared only by Invalidate; an error is returned without being memoized,
// so the next call tries again.
func (r *RP) ListContents(ctx context.Context) ([]*RP, error) {
	r.mu.Lock()
	if r.haveContents {
		contents, err := r.contents, r.contentsErr
		r.mu.Unlock()
		return contents, err
	}
	r.mu.Unlock()

	contents, err := r.computeListContents(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.haveContents = true
	r.contents = contents
	r.contentsErr = nil
	r.children = make(map[string]*RP, len(contents))
	for _, c := range contents {
		r.children[c.Path] = c
	}
	r.mu.Unlock()
	return contents, nil
}

func (r *RP) computeListContents(ctx context.Context) ([]*RP, error) {
	byPath := make(map[string]map[*vpath.VP]bool)
	addVP := func(v *vpath.VP) {
		set := byPath[v.PartialPath()]
		if set == nil {
			set = make(map[*vpath.VP]bool)
			byPath[v.PartialPath()] = set
		}
		set[v] = true
	}
	for _, v := range r.GeneratingVPs {
		addVP(v)
	}

	for {
		noProgress := byPath[r.Path]
		if len(noProgress) == 0 {
			break
		}
		delete(byPath, r.Path)

		type result struct {
			children []*vpath.VP
			err      error
			source   *vpath.VP
		}
		results := make(chan result, len(noProgress))
		var wg sync.WaitGroup
		for v := range noProgress {
			v := v
			wg.Add(1)
			go func() {
				defer wg.Done()
				children, err := v.ListContents(ctx)
				results <- result{children: children, err: err, source: v}
			}()
		}
		wg.Wait()
		close(results)

		for res := range results {
			if res.err != nil {
				return nil, res.err
			}
			for _, child := range res.children {
				if child == res.source {
					return nil, fmt.Errorf("rpath: %s returned itself among its own contents, format template makes no progress", res.source)
				}
				addVP(child)
			}
		}
	}

	out := make([]*RP, 0, len(byPath))
	for _, set := range byPath {
		vps := make([]*vpath.VP, 0, len(set))
		for v := range set {
			vps = append(vps, v)
		}
		child, err := New(r, vps)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// eqName compares a path component, case-insensitively on Windows (as
// spec.md §4.7 requires) and case-sensitively elsewhere.
func eqName(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Resolve finds the RP named by a normalized relative path under r,
// descending one path component at a time. It returns nil (no error) when
// nothing matches, per spec.md §4.7.
func (r *RP) Resolve(ctx context.Context, relPath string) (*RP, error) {
	relPath = pathutil.Normalize(relPath)
	if relPath == "" {
		return r, nil
	}

	children, err := r.ListContents(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range children {
		if eqName(relPath, c.Path) {
			return c, nil
		}
		if eqName(pathutil.Head(relPath), pathutil.Name(c.Path)) {
			return c.Resolve(ctx, pathutil.Tail(relPath))
		}
	}
	return nil, nil
}

// Invalidate drops the memoized list_contents result for this RP (and,
// transitively, for every RP it had produced), so the next ListContents
// call re-derives everything from the catalog.
func (r *RP) Invalidate() {
	r.mu.Lock()
	children := r.contents
	r.haveContents = false
	r.contents = nil
	r.contentsErr = nil
	r.children = nil
	r.mu.Unlock()
	for _, c := range children {
		c.Invalidate()
	}
}

// GetAttr merges getattr() from every generating VP, keeping only the
// stable subset spec.md §4.7 names. Disagreement between VPs (e.g. two
// folders aliasing to the same path with different mtimes) resolves
// non-deterministically to whichever VP is iterated last, matching the
// original's documented behavior.
func (r *RP) GetAttr(warn func(string)) vpath.Attr {
	var merged vpath.Attr
	for _, v := range r.GeneratingVPs {
		a := v.GetAttr(warn)
		merged.Mode = a.Mode
		merged.IsDir = a.IsDir
		merged.Ino = a.Ino
		merged.Nlink = a.Nlink
		merged.Uid = a.Uid
		merged.Gid = a.Gid
		if !a.Ctime.IsZero() {
			merged.Ctime = a.Ctime
		}
		if !a.Mtime.IsZero() {
			merged.Mtime = a.Mtime
		}
		if a.HasSize {
			merged.HasSize = true
			merged.Size = a.Size
		}
	}
	return merged
}

// File returns the catalog.File backing this RP, if it unambiguously
// names exactly one (true only for non-folder RPs, per the no-aliasing
// invariant).
func (r *RP) File() (catalog.File, bool) {
	if r.IsFolder || len(r.GeneratingVPs) != 1 {
		return catalog.File{}, false
	}
	f := r.GeneratingVPs[0].Known.File
	if f == nil {
		return catalog.File{}, false
	}
	return *f, true
}

// OpenFile delegates to the single generating VP's OpenFile. Folders
// (len(GeneratingVPs) > 1 is only possible for folders) never reach here
// through the FUSE ops layer, which checks IsFolder first.
func (r *RP) OpenFile(ctx context.Context) (catalog.DownloadHandle, error) {
	if len(r.GeneratingVPs) != 1 {
		return catalog.DownloadHandle{}, fmt.Errorf("rpath: OpenFile requires exactly one generating VP, got %d for %s", len(r.GeneratingVPs), r.Path)
	}
	return r.GeneratingVPs[0].OpenFile(ctx)
}
