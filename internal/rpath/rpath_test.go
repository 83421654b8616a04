package rpath

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/vpath"
)

func buildTree(t *testing.T) (*vpath.Tree, *catalog.MockCatalog) {
	t.Helper()
	mock := catalog.NewMockCatalog()
	sem := catalog.Semester{ID: "ss26", Name: "Sommersemester 2026", Lexical: "ss26", LexicalShort: "ss26", StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	course := catalog.Course{ID: "course-1", Name: "Algorithmen", Semester: sem}
	mock.Semesters = append(mock.Semesters, sem)
	mock.CoursesBySemester[sem.ID] = append(mock.CoursesBySemester[sem.ID], course)
	root := catalog.File{ID: "root", Name: "Allgemeiner Dateiordner", IsFolder: true, IsAccessible: true, IsSingleChild: true, Course: course, Path: []string{"Allgemeiner Dateiordner"}}
	mock.CourseRootFolder[course.ID] = root
	child := catalog.File{
		ID: "file-1", Name: "slides.pdf", IsFolder: false, IsAccessible: true, Size: 4, HasSize: true,
		Created: time.Now(), Changed: time.Now(), Course: course,
		Path: []string{"Allgemeiner Dateiordner", "slides.pdf"},
	}
	mock.FolderChildren[root.ID] = []catalog.File{child}
	mock.Files[child.ID] = child
	mock.Downloads[child.ID] = catalog.DownloadHandle{URL: "http://example.test/file-1", ExpectedSize: 4, HasSize: true}

	tree := &vpath.Tree{
		Segments:            []string{"{semester-lexical}", "{course}", "{short-path}", "{name}"},
		Catalog:             mock,
		SkipRootFolderNames: vpath.DefaultSkipRootFolderNames(),
	}
	return tree, mock
}

func rootRP(t *testing.T) *RP {
	t.Helper()
	tree, _ := buildTree(t)
	rootVP, err := vpath.NewRoot(tree)
	require.NoError(t, err)
	rp, err := New(nil, []*vpath.VP{rootVP})
	require.NoError(t, err)
	return rp
}

func TestResolveNestedPath(t *testing.T) {
	rp := rootRP(t)
	found, err := rp.Resolve(context.Background(), "ss26/Algorithmen/slides.pdf")
	require.NoError(t, err)
	require.NotNil(t, found)
	f, ok := found.File()
	require.True(t, ok)
	require.Equal(t, "file-1", f.ID)
}

func TestResolveMissingPathReturnsNilNoError(t *testing.T) {
	rp := rootRP(t)
	found, err := rp.Resolve(context.Background(), "nonexistent/path")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestListContentsFlattensGenericRootFolder(t *testing.T) {
	rp := rootRP(t)
	semesters, err := rp.ListContents(context.Background())
	require.NoError(t, err)
	require.Len(t, semesters, 1)
	require.Equal(t, "ss26", semesters[0].Path)

	courses, err := semesters[0].ListContents(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "ss26/Algorithmen", courses[0].Path)

	// The generic course-root wrapper folder is flattened away: listing
	// the course directly surfaces the file, not a further "Allgemeiner
	// Dateiordner" sub-directory.
	entries, err := courses[0].ListContents(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ss26/Algorithmen/slides.pdf", entries[0].Path)
	require.False(t, entries[0].IsFolder)
}

func TestInvalidateClearsMemoizedContents(t *testing.T) {
	rp := rootRP(t)
	first, err := rp.ListContents(context.Background())
	require.NoError(t, err)
	rp.Invalidate()
	second, err := rp.ListContents(context.Background())
	require.NoError(t, err)
	// Different RP instances after invalidation (re-derived, not reused).
	require.NotSame(t, first[0], second[0])
}
