package vpath

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/coursefs/internal/catalog"
)

func testTree(mock *catalog.MockCatalog) *Tree {
	return &Tree{
		Segments:            []string{"{semester-lexical}", "{course}", "{short-path}", "{name}"},
		Catalog:             mock,
		SkipRootFolderNames: DefaultSkipRootFolderNames(),
	}
}

func seedCourse(mock *catalog.MockCatalog) (catalog.Semester, catalog.Course) {
	sem := catalog.Semester{ID: "ss26", Name: "Sommersemester 2026", Lexical: "ss26", LexicalShort: "ss26", StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	course := catalog.Course{ID: "course-1", Name: "Algorithmen", Abbrev: "Algo", Type: "Vorlesung", TypeAbbrev: "VL", Semester: sem}
	mock.Semesters = append(mock.Semesters, sem)
	mock.CoursesBySemester[sem.ID] = append(mock.CoursesBySemester[sem.ID], course)
	root := catalog.File{ID: "root", Name: "Allgemeiner Dateiordner", IsFolder: true, IsAccessible: true, IsSingleChild: true, Course: course, Path: []string{"Allgemeiner Dateiordner"}}
	mock.CourseRootFolder[course.ID] = root
	child := catalog.File{
		ID: "file-1", Name: "slides.pdf", IsFolder: false, IsAccessible: true, Size: 4, HasSize: true,
		Created: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), Changed: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		ParentID: root.ID, HasParent: true, Course: course,
		Path: []string{"Allgemeiner Dateiordner", "slides.pdf"},
	}
	mock.FolderChildren[root.ID] = []catalog.File{child}
	mock.Files[child.ID] = child
	mock.Downloads[child.ID] = catalog.DownloadHandle{URL: "http://example.test/file-1", ExpectedSize: 4, HasSize: true}
	return sem, course
}

func TestListContentsExpandsSemesterThenCourseThenFile(t *testing.T) {
	mock := catalog.NewMockCatalog()
	seedCourse(mock)
	tree := testTree(mock)

	root, err := NewRoot(tree)
	require.NoError(t, err)
	require.True(t, root.IsFolder())
	require.True(t, root.IsRoot())

	semesterLevel, err := root.ListContents(context.Background())
	require.NoError(t, err)
	require.Len(t, semesterLevel, 1)
	require.Equal(t, "ss26", semesterLevel[0].PartialPath())

	courseLevel, err := semesterLevel[0].ListContents(context.Background())
	require.NoError(t, err)
	require.Len(t, courseLevel, 1)
	require.Equal(t, "ss26/Algorithmen", courseLevel[0].PartialPath())
}

// descendToLeaf repeatedly calls ListContents, following the single
// resulting child, until a non-folder VP is reached (or maxSteps is
// exceeded, which would indicate a construction bug rather than a deep
// tree, since this fixture's template only ever branches to one child at
// a time once a course is fixed).
func descendToLeaf(t *testing.T, v *VP, maxSteps int) *VP {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if !v.IsFolder() {
			return v
		}
		children, err := v.ListContents(context.Background())
		require.NoError(t, err)
		require.Len(t, children, 1)
		v = children[0]
	}
	t.Fatalf("did not reach a leaf VP within %d steps", maxSteps)
	return nil
}

// seedNestedCourse builds a course whose generic root folder
// ("Allgemeiner Dateiordner") has a single child subfolder holding one
// file. The subfolder and the leaf file are both given IsSingleChild=false,
// so the leaf file's own flag is false even though the elision rule should
// still fire, since it's the generic root's IsSingleChild that governs it.
func seedNestedCourse(mock *catalog.MockCatalog) (catalog.Semester, catalog.Course) {
	sem := catalog.Semester{ID: "ss26", Name: "Sommersemester 2026", Lexical: "ss26", LexicalShort: "ss26", StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	course := catalog.Course{ID: "course-2", Name: "Algorithmen", Abbrev: "Algo", Type: "Vorlesung", TypeAbbrev: "VL", Semester: sem}
	mock.Semesters = append(mock.Semesters, sem)
	mock.CoursesBySemester[sem.ID] = append(mock.CoursesBySemester[sem.ID], course)

	root := catalog.File{ID: "root-2", Name: "Allgemeiner Dateiordner", IsFolder: true, IsAccessible: true, IsSingleChild: true, Course: course, Path: []string{"Allgemeiner Dateiordner"}}
	mock.CourseRootFolder[course.ID] = root

	sub := catalog.File{
		ID: "sub-2", Name: "Folien", IsFolder: true, IsAccessible: true, IsSingleChild: false,
		ParentID: root.ID, HasParent: true, Course: course,
		Path: []string{"Allgemeiner Dateiordner", "Folien"},
	}
	mock.FolderChildren[root.ID] = []catalog.File{sub}

	leaf := catalog.File{
		ID: "file-2", Name: "slides.pdf", IsFolder: false, IsAccessible: true, Size: 4, HasSize: true, IsSingleChild: false,
		Created: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), Changed: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		ParentID: sub.ID, HasParent: true, Course: course,
		Path: []string{"Allgemeiner Dateiordner", "Folien", "slides.pdf"},
	}
	mock.FolderChildren[sub.ID] = []catalog.File{leaf}
	mock.Files[leaf.ID] = leaf
	mock.Downloads[leaf.ID] = catalog.DownloadHandle{URL: "http://example.test/file-2", ExpectedSize: 4, HasSize: true}
	return sem, course
}

// TestShortPathElisionUsesRootNotLeafSingleChild guards against driving the
// elision decision off the rendered leaf's own IsSingleChild (which is
// false here) instead of the generic root folder's (which is true): without
// that fix, a file nested two folders deep under a single-child generic
// root would never get elided.
func TestShortPathElisionUsesRootNotLeafSingleChild(t *testing.T) {
	mock := catalog.NewMockCatalog()
	seedNestedCourse(mock)
	tree := testTree(mock)

	root, err := NewRoot(tree)
	require.NoError(t, err)

	leaf := descendToLeaf(t, root, 10)
	// The generic root's single child, "Folien", is elided from
	// short-path because the ROOT (IsSingleChild=true) says so, even
	// though the leaf file itself has IsSingleChild=false. Using the
	// leaf's own flag (the bug) would leave "Folien" in short-path.
	require.Equal(t, "ss26/Algorithmen/slides.pdf", leaf.PartialPath())
}

func TestShortPathElidesGenericRootFolder(t *testing.T) {
	mock := catalog.NewMockCatalog()
	seedCourse(mock)
	tree := testTree(mock)

	root, err := NewRoot(tree)
	require.NoError(t, err)

	leaf := descendToLeaf(t, root, 10)
	// The course root folder "Allgemeiner Dateiordner" is never part of
	// short-path, so the file shows up directly under the course, not
	// nested one level deeper.
	require.Equal(t, "ss26/Algorithmen/slides.pdf", leaf.PartialPath())
	require.False(t, leaf.IsFolder())
}

func TestGetAttrReportsSizeForFiles(t *testing.T) {
	mock := catalog.NewMockCatalog()
	seedCourse(mock)
	tree := testTree(mock)

	root, err := NewRoot(tree)
	require.NoError(t, err)
	leaf := descendToLeaf(t, root, 10)

	attr := leaf.GetAttr(nil)
	require.False(t, attr.IsDir)
	require.True(t, attr.HasSize)
	require.EqualValues(t, 4, attr.Size)
}

func TestOpenFileRejectsFolders(t *testing.T) {
	mock := catalog.NewMockCatalog()
	seedCourse(mock)
	tree := testTree(mock)

	root, err := NewRoot(tree)
	require.NoError(t, err)
	_, err = root.OpenFile(context.Background())
	require.Error(t, err)
}
