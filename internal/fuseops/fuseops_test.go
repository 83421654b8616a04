package fuseops

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/download"
	"github.com/agentic-research/coursefs/internal/rpath"
	"github.com/agentic-research/coursefs/internal/scheduler"
	"github.com/agentic-research/coursefs/internal/vpath"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func buildFS(t *testing.T, srv *httptest.Server) *FS {
	t.Helper()
	mock := catalog.NewMockCatalog()
	sem := catalog.Semester{ID: "ss26", Name: "SS26", Lexical: "ss26", LexicalShort: "ss26", StartDate: time.Now()}
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
	mock.Downloads[child.ID] = catalog.DownloadHandle{URL: srv.URL, ExpectedSize: 4, HasSize: true}

	tree := &vpath.Tree{
		Segments:            []string{"{course}", "{short-path}", "{name}"},
		Catalog:             mock,
		SkipRootFolderNames: vpath.DefaultSkipRootFolderNames(),
	}

	sched, rootRPVal, err := scheduler.Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		rootVP, err := vpath.NewRoot(tree)
		if err != nil {
			return nil, err
		}
		return rpath.New(nil, []*vpath.VP{rootVP})
	})
	require.NoError(t, err)

	downloads := download.NewCache(t.TempDir(), srv.Client(), testLog(), nil)
	t.Cleanup(sched.Stop)
	return New(sched, rootRPVal.(*rpath.RP), downloads, testLog())
}

func TestGetattrRootIsDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()
	fs := buildFS(t, srv)

	var stat fuse.Stat_t
	errc := fs.Getattr("/", &stat, 0)
	require.Equal(t, 0, errc)
	require.NotEqual(t, uint32(0), stat.Mode&fuse.S_IFDIR)
}

func TestGetattrMissingPathReturnsENOENT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	fs := buildFS(t, srv)

	var stat fuse.Stat_t
	errc := fs.Getattr("/nonexistent", &stat, 0)
	require.Equal(t, -fuse.ENOENT, errc)
}

func TestOpendirOnFileReturnsENOTDIR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()
	fs := buildFS(t, srv)

	errc, _ := fs.Opendir("/Algorithmen/slides.pdf")
	require.Equal(t, -fuse.ENOTDIR, errc)
}

func TestOpenAndReadServesDownloadedBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4")
			return
		}
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()
	fs := buildFS(t, srv)

	errc, fh := fs.Open("/Algorithmen/slides.pdf", 0)
	require.Equal(t, 0, errc)

	buf := make([]byte, 4)
	n := fs.Read("/Algorithmen/slides.pdf", buf, 0, fh)
	require.Equal(t, 4, n)
	require.Equal(t, "ABCD", string(buf))

	require.Equal(t, 0, fs.Release("/Algorithmen/slides.pdf", fh))
}

func TestOpenOnDirectoryReturnsEISDIR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	fs := buildFS(t, srv)

	errc, _ := fs.Open("/Algorithmen", 0)
	require.Equal(t, -fuse.EISDIR, errc)
}
