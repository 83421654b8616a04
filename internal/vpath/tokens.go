package vpath

import (
	"strconv"
	"time"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/pathutil"
)

func escapeFile(s string) string {
	return pathutil.Encode(s, pathutil.Ascii, pathutil.Similar)
}

func escapePath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = escapeFile(s)
	}
	return pathutil.Join(escaped...)
}

// KnownTokens derives the FormatToken -> string map from known_data, as
// studip_path.py's known_tokens property does. Later-known objects (File
// over Course over Semester) overwrite the semester/course tokens they
// also provide, since they carry the more specific embedded copy.
func (v *VP) KnownTokens() map[string]string {
	tokens := make(map[string]string)

	created, changed := v.modTimes()
	if created != nil {
		tokens["created"] = created.Format(time.RFC3339)
		tokens["time"] = created.Format(time.RFC3339)
	}
	if changed != nil {
		tokens["changed"] = changed.Format(time.RFC3339)
	}

	if s := v.Known.Semester; s != nil {
		applySemesterTokens(tokens, *s)
	}
	if c := v.Known.Course; c != nil {
		applySemesterTokens(tokens, c.Semester)
		applyCourseTokens(tokens, *c)
	}
	if f := v.Known.File; f != nil {
		applySemesterTokens(tokens, f.Course.Semester)
		applyCourseTokens(tokens, f.Course)
		v.applyFileTokens(tokens, *f)
	}
	return tokens
}

func applySemesterTokens(tokens map[string]string, s catalog.Semester) {
	tokens["semester"] = escapeFile(s.Name)
	tokens["semester-lexical"] = escapeFile(s.Lexical)
	tokens["semester-lexical-short"] = escapeFile(s.LexicalShort)
}

func applyCourseTokens(tokens map[string]string, c catalog.Course) {
	tokens["course-id"] = c.ID
	tokens["course-abbrev"] = escapeFile(c.Abbrev)
	tokens["course"] = escapeFile(c.Name)
	tokens["type"] = escapeFile(c.Type)
	tokens["type-abbrev"] = escapeFile(c.TypeAbbrev)
	tokens["class"] = escapeFile(c.Class)
}

// applyFileTokens fills in path/short-path/id/name/description/author,
// including the short-path elision rule for a generic course root folder
// (SPEC_FULL.md §4). The course root folder itself never appears in path or
// short-path; when its name is in tree.SkipRootFolderNames and it has a
// single child, that child (the first remaining component) is also dropped
// from short-path but kept in path.
func (v *VP) applyFileTokens(tokens map[string]string, f catalog.File) {
	path := trimFirstLast(f.Path)
	shortPath := path

	if v.shouldElideRoot(f) {
		shortPath = pathutil.TailSlice(shortPath)
	}

	tokens["path"] = escapePath(path)
	tokens["short-path"] = escapePath(shortPath)
	tokens["id"] = f.ID
	tokens["name"] = escapeFile(f.Name)
	tokens["description"] = escapeFile(f.Description)
	tokens["author"] = escapeFile(f.Author)
}

// trimFirstLast mirrors studip_path.py's `self._file.path[1:-1]`: File.Path
// runs from the course root folder (inclusive) to the file itself
// (inclusive), so this drops both ends and, for a direct child of the root,
// yields no intermediate components.
func trimFirstLast(path []string) []string {
	if len(path) <= 2 {
		return nil
	}
	return append([]string(nil), path[1:len(path)-1]...)
}

// shouldElideRoot decides whether f sits under a conventionally named course
// root folder that has a single child. The root's name comes from f.Path[0]
// (the first path component names that folder, for any file nested under
// it), but whether it actually has a single child must come
// from that folder's OWN File object, not from f itself: f is usually the
// leaf being rendered, several folders below the root, with its own
// unrelated IsSingleChild flag.
func (v *VP) shouldElideRoot(f catalog.File) bool {
	if len(v.tree.SkipRootFolderNames) == 0 {
		return false
	}
	if len(f.Path) == 0 {
		return false
	}
	rootName := f.Path[0]
	return v.tree.SkipRootFolderNames[rootName] && v.isRootSingleChild()
}

// isRootSingleChild walks up the VP chain to the node where File first
// became known for this course -- the generic root folder object returned
// by RemoteCatalog.GetCourseRootFolder, the VP/File analogue of
// studip_path.py's "while root_file.parent and root_file.parent.parent"
// walk -- and reports THAT object's IsSingleChild.
func (v *VP) isRootSingleChild() bool {
	node := v
	for node.Parent != nil && node.Parent.Known.File != nil {
		node = node.Parent
	}
	if node.Known.File == nil {
		return false
	}
	return node.Known.File.IsSingleChild
}

func (v *VP) modTimes() (created, changed *time.Time) {
	if f := v.Known.File; f != nil {
		return &f.Created, &f.Changed
	}
	if c := v.Known.Course; c != nil {
		return &c.Semester.StartDate, &c.Semester.StartDate
	}
	if s := v.Known.Semester; s != nil {
		return &s.StartDate, &s.StartDate
	}
	return nil, nil
}

// idTokenInt is a convenience some templates may want for numeric course
// type sorting (course.TypeNr); unused directly by KnownTokens but kept
// alongside it since it derives from the same source data.
func idTokenInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
