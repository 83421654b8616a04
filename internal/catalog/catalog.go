// Package catalog defines the read-only remote object model and the
// RemoteCatalog abstraction the virtual-path resolver is built against.
// The concrete JSON schema, authentication flow and transport of any real
// course-management server are out of scope here (spec.md §1) — this
// package only fixes the shape of the data the rest of the driver needs.
package catalog

import (
	"context"
	"errors"
	"time"
)

// Errors returned by a RemoteCatalog implementation are expected to be (or
// wrap) one of these sentinels so callers can map them to the error
// taxonomy in spec.md §7.
var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrForbidden   = errors.New("catalog: forbidden")
	ErrTimeout     = errors.New("catalog: network timeout")
	ErrDisconnected = errors.New("catalog: network disconnected")
	ErrCancelled   = errors.New("catalog: cancelled")
	ErrProtocol    = errors.New("catalog: protocol error")
	ErrAuth        = errors.New("catalog: authentication failed")
)

// Semester is a single academic term.
type Semester struct {
	ID           string
	Name         string
	Lexical      string
	LexicalShort string
	StartDate    time.Time
}

// Course belongs to a primary Semester (templating always uses this one,
// see SPEC_FULL.md §4); StartSemester/EndSemester carry the original's
// wider span for catalogs that track it, unused by the default template.
type Course struct {
	ID            string
	Name          string
	Abbrev        string
	Type          string
	TypeAbbrev    string
	TypeNr        string
	Class         string
	Semester      Semester
	StartSemester *Semester
	EndSemester   *Semester
}

// File is a remote file or folder. Folders have IsFolder set and no
// retrievable content; Path is the sequence of path components from the
// course root folder (its own name is the first component) down to this
// file (inclusive).
type File struct {
	ID            string
	Name          string
	Description   string
	Author        string
	Size          int64
	HasSize       bool
	Created       time.Time
	Changed       time.Time
	IsFolder      bool
	IsAccessible  bool
	IsSingleChild bool
	ParentID      string
	HasParent     bool
	Path          []string
	Course        Course
}

// User identifies the logged-in account, used only to sanity-check a
// successful login.
type User struct {
	ID       string
	Username string
}

// Credentials carries whatever an Authenticator needs to log in; the
// concrete fields used depend on the login method (spec.md §4.4).
type Credentials struct {
	Username string
	Password string
}

// DownloadHandle is the minimal surface the catalog exposes about a
// download: a URL to fetch and a size hint the download engine validates
// against what the server actually reports. internal/download.Download is
// the stateful wrapper built around this.
type DownloadHandle struct {
	URL          string
	ExpectedSize int64
	HasSize      bool
	LastModified time.Time
	HasModified  bool
}

// RemoteCatalog is the abstract read-only accessor the virtual-path
// resolver is built against (spec.md §4.3). Every method may fail with one
// of the sentinel errors above (or a wrapping error satisfying
// errors.Is(err, ErrX)).
type RemoteCatalog interface {
	GetSemesters(ctx context.Context) ([]Semester, error)
	GetCourses(ctx context.Context, sem Semester) ([]Course, error)
	GetCourseRootFolder(ctx context.Context, course Course) (File, error)
	GetFolderFiles(ctx context.Context, folder File) ([]File, error)
	GetFileDetails(ctx context.Context, id string) (File, error)
	DownloadFile(ctx context.Context, file File) (DownloadHandle, error)

	Login(ctx context.Context, creds Credentials) error
	CheckLogin(ctx context.Context, username string) error
}

// UserInfo is an optional capability: a RemoteCatalog may implement it so
// Login can be cross-checked against the authenticated user, mirroring the
// original's `assert user_data["username"] == username`.
type UserInfo interface {
	GetUser(ctx context.Context) (User, error)
}

// Discovery is an optional capability: a RemoteCatalog may implement it to
// let the mount path fail fast at startup if the remote doesn't support an
// endpoint this driver needs.
type Discovery interface {
	CheckDiscovery(ctx context.Context) error
}
