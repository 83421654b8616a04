package catalog

import (
	"context"
	"sync"
)

// MockCatalog is an in-memory RemoteCatalog used by the resolver's tests
// and by end-to-end scenarios in spec.md §8. It is intentionally simple:
// every accessor just indexes into pre-populated slices/maps under a
// mutex, with no network behavior at all.
type MockCatalog struct {
	mu sync.Mutex

	Semesters []Semester
	// CoursesBySemester, FolderChildren and Files are keyed by object ID.
	CoursesBySemester map[string][]Course
	CourseRootFolder  map[string]File // keyed by course ID
	FolderChildren    map[string][]File
	Files             map[string]File
	Downloads         map[string]DownloadHandle // keyed by file ID
	DownloadBodies    map[string][]byte         // keyed by file ID, served by the test HTTP layer

	LoggedInUser string
	GetCalls     int // instrumentation for "exactly one GET" style assertions
}

// NewMockCatalog returns an empty MockCatalog ready for population.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		CoursesBySemester: make(map[string][]Course),
		CourseRootFolder:  make(map[string]File),
		FolderChildren:    make(map[string][]File),
		Files:             make(map[string]File),
		Downloads:         make(map[string]DownloadHandle),
		DownloadBodies:    make(map[string][]byte),
	}
}

func (c *MockCatalog) GetSemesters(ctx context.Context) ([]Semester, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Semester, len(c.Semesters))
	copy(out, c.Semesters)
	return out, nil
}

func (c *MockCatalog) GetCourses(ctx context.Context, sem Semester) ([]Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	courses := c.CoursesBySemester[sem.ID]
	out := make([]Course, len(courses))
	copy(out, courses)
	return out, nil
}

func (c *MockCatalog) GetCourseRootFolder(ctx context.Context, course Course) (File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.CourseRootFolder[course.ID]
	if !ok {
		return File{}, ErrNotFound
	}
	return f, nil
}

func (c *MockCatalog) GetFolderFiles(ctx context.Context, folder File) ([]File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := c.FolderChildren[folder.ID]
	out := make([]File, len(children))
	copy(out, children)
	return out, nil
}

func (c *MockCatalog) GetFileDetails(ctx context.Context, id string) (File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.Files[id]
	if !ok {
		return File{}, ErrNotFound
	}
	return f, nil
}

func (c *MockCatalog) DownloadFile(ctx context.Context, file File) (DownloadHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetCalls++
	h, ok := c.Downloads[file.ID]
	if !ok {
		return DownloadHandle{}, ErrNotFound
	}
	return h, nil
}

func (c *MockCatalog) Login(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LoggedInUser = creds.Username
	return nil
}

func (c *MockCatalog) CheckLogin(ctx context.Context, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LoggedInUser != username {
		return ErrAuth
	}
	return nil
}

var _ RemoteCatalog = (*MockCatalog)(nil)
