// Package vpath implements the VirtualPath tree described in spec.md §4.6:
// an immutable node built by expanding a format template segment by
// segment against remote catalog objects.
package vpath

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/pathutil"
	"github.com/agentic-research/coursefs/internal/template"
)

// KnownData is the subset of {Semester, Course, File} known at a node,
// mirroring spec.md's "known_data: mapping from DataField to object".
type KnownData struct {
	Semester *catalog.Semester
	Course   *catalog.Course
	File     *catalog.File
}

// Tree holds the configuration shared by every VP in one mount: the parsed
// template, the catalog to query, and the short-path elision rule
// (SPEC_FULL.md §4, restoring studip_path.py's "Allgemeiner Dateiordner"
// behaviour via --skip-root-folder-names).
type Tree struct {
	Segments            []string
	Catalog             catalog.RemoteCatalog
	SkipRootFolderNames map[string]bool
}

// DefaultSkipRootFolderNames is the original's hardcoded elision set.
func DefaultSkipRootFolderNames() map[string]bool {
	return map[string]bool{
		"Allgemeiner Dateiordner": true,
		"Hauptordner":             true,
	}
}

// VP is one immutable VirtualPath node.
type VP struct {
	tree *Tree

	Parent           *VP
	PathSegments     []string
	NextPathSegments []string
	Known            KnownData

	partialPath     string
	isFolder        bool
	needsExpandLoop bool
	contentOptions  map[template.DataField]bool
}

// NewRoot builds the root VP: no parent, all template segments pending, no
// known data.
func NewRoot(tree *Tree) (*VP, error) {
	root := &VP{
		tree:             tree,
		PathSegments:     nil,
		NextPathSegments: append([]string(nil), tree.Segments...),
	}
	if err := root.init(); err != nil {
		return nil, err
	}
	return root, nil
}

// subPath builds a child of v, mirroring _mk_sub_path: the child inherits
// known_data (merged with newKnown) and either advances past the head of
// next_path_segments or stays on the current segment (advance=false, used
// by folder-recursion loops).
func (v *VP) subPath(newKnown KnownData, advance bool) (*VP, error) {
	if !v.isFolder {
		return nil, fmt.Errorf("vpath: subPath called on non-folder %s", v.partialPath)
	}
	child := &VP{
		tree:   v.tree,
		Parent: v,
		Known:  mergeKnown(v.Known, newKnown),
	}
	if advance {
		child.PathSegments = append(append([]string(nil), v.PathSegments...), pathutil.HeadSlice(v.NextPathSegments))
		child.NextPathSegments = pathutil.TailSlice(v.NextPathSegments)
	} else {
		child.PathSegments = v.PathSegments
		child.NextPathSegments = v.NextPathSegments
	}
	if err := child.init(); err != nil {
		return nil, err
	}
	return child, nil
}

func mergeKnown(base KnownData, extra KnownData) KnownData {
	out := base
	if extra.Semester != nil {
		out.Semester = extra.Semester
	}
	if extra.Course != nil {
		out.Course = extra.Course
	}
	if extra.File != nil {
		out.File = extra.File
	}
	return out
}

// init computes the cached properties the Python original exposes as
// cached_property: content_options, segment_needs_expand_loop, is_folder,
// partial_path.
func (v *VP) init() error {
	headSeg := pathutil.HeadSlice(v.NextPathSegments)
	opts, err := template.RequiredFields(headSeg)
	if err != nil {
		return err
	}
	v.contentOptions = opts
	v.needsExpandLoop = headSeg != "" && (strings.Contains(headSeg, "{path}") || strings.Contains(headSeg, "{short-path}"))
	v.isFolder = len(v.NextPathSegments) > 0 || v.needsExpandLoop

	if !v.isFolder && v.Known.File == nil {
		return fmt.Errorf("vpath: path %v has no more possible path segments (and thus must describe a file) but no file is known; check the format template", v.PathSegments)
	}

	tokens := v.KnownTokens()
	rendered := make([]string, len(v.PathSegments))
	for i, seg := range v.PathSegments {
		r, err := template.Render(seg, tokens)
		if err != nil {
			return fmt.Errorf("vpath: rendering segment %q: %w", seg, err)
		}
		rendered[i] = r
	}
	v.partialPath = pathutil.Join(rendered...)
	return nil
}

// IsFolder reports whether this node may have children.
func (v *VP) IsFolder() bool { return v.isFolder }

// IsRoot reports whether this node has no parent.
func (v *VP) IsRoot() bool { return v.Parent == nil }

// PartialPath is the rendered disk path for this node.
func (v *VP) PartialPath() string { return v.partialPath }

// ContentOptions is the set of DataFields the next pending segment needs,
// used by list_contents to decide which catalog calls to make.
func (v *VP) ContentOptions() map[template.DataField]bool { return v.contentOptions }

// Ino derives a stable inode-ish number from the rendered path, matching
// spec.md's `st_ino = hash(partial_path)`.
func Ino(partialPath string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(partialPath))
	return h.Sum64()
}

func (v *VP) String() string {
	return fmt.Sprintf("VP(%s)", v.partialPath)
}
