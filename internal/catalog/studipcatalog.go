package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/agentic-research/coursefs/internal/httpclient"
)

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var semesterTitleRe = regexp.MustCompile(`(Sommersemester|Wintersemester)\s+(\d{4})`)

// lexicalName/lexicalShort derive the "ss26"/"ws26"-style short semester
// names studip_path.py's known_tokens expects on Semester.lexical /
// .lexical_short. The upstream model class that computes these wasn't among
// the retrieved original_source files, so this is a judgment-call
// reconstruction from the title format Stud.IP actually sends
// ("Sommersemester 2026", "Wintersemester 2026/2027"), not a verbatim port.
func lexicalName(title string) string {
	m := semesterTitleRe.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	year := m[2][2:]
	if m[1] == "Sommersemester" {
		return "ss" + year
	}
	return "ws" + year
}

// lexicalShort drops the season prefix, leaving just the year (e.g. "26"),
// the shorter of the two forms known_tokens exposes.
func lexicalShort(title string) string {
	m := semesterTitleRe.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	return m[2][2:]
}

// StudIPCatalog is a RemoteCatalog backed by a Stud.IP-style REST API
// (https://hilfe.studip.de/develop/Entwickler/RESTAPI), grounded on
// studipfs/api/session.py's StudIPSession. The concrete JSON schema is kept
// close to that reference implementation's endpoints and field names, since
// spec.md's Non-goals leave the wire format unspecified but this is the
// catalog this driver actually ships against.
type StudIPCatalog struct {
	client  *httpclient.Client
	baseURL string

	// userID caches the logged-in user's id for GetCourses' "user/:id/courses"
	// endpoint, resolved once by CheckLogin/Login.
	userID string
}

// NewStudIPCatalog builds a catalog client against baseURL (e.g.
// "https://studip.example.edu/studip/api.php/").
func NewStudIPCatalog(client *httpclient.Client, baseURL string) *StudIPCatalog {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &StudIPCatalog{client: client, baseURL: baseURL}
}

func (c *StudIPCatalog) url(endpoint string) string {
	return c.baseURL + strings.TrimLeft(endpoint, "/")
}

// mapStatusErr maps httpclient.StatusError codes onto the spec.md §7
// sentinel taxonomy; any other transport error (timeouts, DNS, connection
// reset) is returned unwrapped so internal/fuseops's errors.Is checks still
// see through to it via the lower-level context/network errors it wraps.
func mapStatusErr(err error) error {
	var se httpclient.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 404, 410:
			return fmt.Errorf("%w: %s", ErrNotFound, se.URL)
		case 401, 403:
			return fmt.Errorf("%w: %s", ErrForbidden, se.URL)
		default:
			return fmt.Errorf("%w: %s", ErrProtocol, se.Error())
		}
	}
	return err
}

type paginationEnvelope struct {
	Collection json.RawMessage `json:"collection"`
	Pagination struct {
		Offset int `json:"offset"`
		Total  int `json:"total"`
		Links  struct {
			Next string `json:"next"`
		} `json:"links"`
	} `json:"pagination"`
}

// fetchAll walks a Stud.IP paginated collection endpoint to completion,
// mirroring session.py's studip_iter: follow pagination.links.next (resolved
// against the URL of the page it came from) until the server stops
// providing a next link. The collection may be a JSON array or a JSON
// object of values (Stud.IP
// returns the latter for e.g. "semesters"), handled by unmarshalling twice.
func fetchAll[T any](ctx context.Context, client *httpclient.Client, startURL string) ([]T, error) {
	var out []T
	next := startURL
	for next != "" {
		var page paginationEnvelope
		if err := client.GetJSON(ctx, next, &page); err != nil {
			return nil, mapStatusErr(err)
		}
		items, err := decodeCollection[T](page.Collection)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding collection from %s: %v", ErrProtocol, next, err)
		}
		out = append(out, items...)
		if page.Pagination.Links.Next == "" {
			break
		}
		base, err := url.Parse(next)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page url %s: %v", ErrProtocol, next, err)
		}
		ref, err := url.Parse(page.Pagination.Links.Next)
		if err != nil {
			return nil, fmt.Errorf("%w: bad next link from %s: %v", ErrProtocol, next, err)
		}
		next = base.ResolveReference(ref).String()
	}
	return out, nil
}

func decodeCollection[T any](raw json.RawMessage) ([]T, error) {
	var asSlice []T
	if err := json.Unmarshal(raw, &asSlice); err == nil {
		return asSlice, nil
	}
	var asMap map[string]T
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(asMap))
	for _, v := range asMap {
		out = append(out, v)
	}
	return out, nil
}

type studipSemester struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Begin int64  `json:"begin"`
	End   int64  `json:"end"`
}

func (c *StudIPCatalog) GetSemesters(ctx context.Context) ([]Semester, error) {
	raw, err := fetchAll[studipSemester](ctx, c.client, c.url("semesters"))
	if err != nil {
		return nil, err
	}
	out := make([]Semester, len(raw))
	for i, s := range raw {
		out[i] = semesterFromWire(s)
	}
	return out, nil
}

func semesterFromWire(s studipSemester) Semester {
	return Semester{
		ID:           s.ID,
		Name:         s.Title,
		Lexical:      lexicalName(s.Title),
		LexicalShort: lexicalShort(s.Title),
		StartDate:    unixTime(s.Begin),
	}
}

type studipCourse struct {
	ID     string `json:"course_id"`
	Title  string `json:"title"`
	Number string `json:"number"`
	Type   string `json:"type"`
}

type studipSettings struct {
	SemType map[string]struct {
		Name  string `json:"name"`
		Class string `json:"class"`
	} `json:"SEM_TYPE"`
	SemClass map[string]struct {
		Name string `json:"name"`
	} `json:"SEM_CLASS"`
}

type studipUser struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
}

// GetCourses restores get_courses_'s type/class lookup via the settings
// endpoint, flattening "type" from a raw code to a display name the same
// way session.py does before yielding each course.
func (c *StudIPCatalog) GetCourses(ctx context.Context, sem Semester) ([]Course, error) {
	if c.userID == "" {
		user, err := c.GetUser(ctx)
		if err != nil {
			return nil, err
		}
		c.userID = user.ID
	}

	var settings studipSettings
	if err := c.client.GetJSON(ctx, c.url("studip/settings"), &settings); err != nil {
		return nil, mapStatusErr(err)
	}

	endpoint := c.url(fmt.Sprintf("user/%s/courses?semester=%s", url.PathEscape(c.userID), url.QueryEscape(sem.ID)))
	raw, err := fetchAll[studipCourse](ctx, c.client, endpoint)
	if err != nil {
		return nil, err
	}

	out := make([]Course, len(raw))
	for i, rc := range raw {
		typeData := settings.SemType[rc.Type]
		classData := settings.SemClass[typeData.Class]
		out[i] = Course{
			ID:       rc.ID,
			Name:     rc.Title,
			Abbrev:   rc.Number,
			Type:     typeData.Name,
			TypeNr:   rc.Type,
			Class:    classData.Name,
			Semester: sem,
		}
	}
	return out, nil
}

type studipFile struct {
	ID          string `json:"id"`
	FileID      string `json:"file_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AuthorName  string `json:"author_name"`
	Size        int64  `json:"size"`
	MkDate      int64  `json:"mkdate"`
	ChDate      int64  `json:"chdate"`
}

type studipFolder struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	MkDate     int64        `json:"mkdate"`
	ChDate     int64        `json:"chdate"`
	Subfolders []studipFile `json:"subfolders"`
	FileRefs   []studipFile `json:"file_refs"`
}

func folderToFile(f studipFolder, course Course, path []string) File {
	children := len(f.Subfolders) + len(f.FileRefs)
	return File{
		ID:            f.ID,
		Name:          f.Name,
		Created:       unixTime(f.MkDate),
		Changed:       unixTime(f.ChDate),
		IsFolder:      true,
		IsAccessible:  true,
		IsSingleChild: children == 1,
		Path:          path,
		Course:        course,
	}
}

func (c *StudIPCatalog) GetCourseRootFolder(ctx context.Context, course Course) (File, error) {
	var folder studipFolder
	if err := c.client.GetJSON(ctx, c.url("course/"+url.PathEscape(course.ID)+"/top_folder"), &folder); err != nil {
		return File{}, mapStatusErr(err)
	}
	return folderToFile(folder, course, []string{folder.Name}), nil
}

// GetFolderFiles restores return_folder's merge of subfolders and file_refs
// into one child listing, fetching full details for each (the top_folder/
// folder endpoints only embed summaries).
func (c *StudIPCatalog) GetFolderFiles(ctx context.Context, folder File) ([]File, error) {
	var wire studipFolder
	if err := c.client.GetJSON(ctx, c.url("folder/"+url.PathEscape(folder.ID)), &wire); err != nil {
		return nil, mapStatusErr(err)
	}

	path := append([]string(nil), folder.Path...)
	var out []File
	for _, sub := range wire.Subfolders {
		var subWire studipFolder
		if err := c.client.GetJSON(ctx, c.url("folder/"+url.PathEscape(sub.ID)), &subWire); err != nil {
			return nil, mapStatusErr(err)
		}
		out = append(out, folderToFile(subWire, folder.Course, append(append([]string(nil), path...), subWire.Name)))
	}
	for _, ref := range wire.FileRefs {
		f, err := c.GetFileDetails(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		f.Course = folder.Course
		f.Path = append(append([]string(nil), path...), f.Name)
		f.HasParent = true
		f.ParentID = folder.ID
		out = append(out, f)
	}
	return out, nil
}

func (c *StudIPCatalog) GetFileDetails(ctx context.Context, id string) (File, error) {
	var wire studipFile
	if err := c.client.GetJSON(ctx, c.url("file/"+url.PathEscape(id)), &wire); err != nil {
		return File{}, mapStatusErr(err)
	}
	return File{
		ID:           wire.ID,
		Name:         wire.Name,
		Description:  wire.Description,
		Author:       wire.AuthorName,
		Size:         wire.Size,
		HasSize:      true,
		Created:      unixTime(wire.MkDate),
		Changed:      unixTime(wire.ChDate),
		IsAccessible: true,
	}, nil
}

func (c *StudIPCatalog) DownloadFile(ctx context.Context, file File) (DownloadHandle, error) {
	return DownloadHandle{
		URL:          c.url("file/" + url.PathEscape(file.ID) + "/download"),
		ExpectedSize: file.Size,
		HasSize:      file.HasSize,
		LastModified: file.Changed,
		HasModified:  !file.Changed.IsZero(),
	}, nil
}

func (c *StudIPCatalog) GetUser(ctx context.Context) (User, error) {
	var wire studipUser
	if err := c.client.GetJSON(ctx, c.url("user"), &wire); err != nil {
		return User{}, mapStatusErr(err)
	}
	return User{ID: wire.ID, Username: wire.Username}, nil
}

// Login performs no authentication of its own for StudIPCatalog:
// authentication happens at the transport layer via the
// httpclient.Authenticator configured on c.client (spec.md §4.4), not
// per-catalog-call. Login only runs CheckLogin, which cross-checks the
// authenticated identity, restoring do_login's username assertion.
func (c *StudIPCatalog) Login(ctx context.Context, creds Credentials) error {
	return c.CheckLogin(ctx, creds.Username)
}

func (c *StudIPCatalog) CheckLogin(ctx context.Context, username string) error {
	user, err := c.GetUser(ctx)
	if err != nil {
		return err
	}
	c.userID = user.ID
	if username != "" && user.Username != username {
		return fmt.Errorf("%w: logged in as %q, expected %q", ErrAuth, user.Username, username)
	}
	return nil
}

// CheckDiscovery restores do_login's discovery-endpoint capability probe:
// every path this driver needs must be present and support GET.
func (c *StudIPCatalog) CheckDiscovery(ctx context.Context) error {
	var discovery map[string]map[string]json.RawMessage
	if err := c.client.GetJSON(ctx, c.url("discovery"), &discovery); err != nil {
		return mapStatusErr(err)
	}
	required := []string{
		"/user", "/studip/settings", "/semesters", "/user/:user_id/courses",
		"/course/:course_id/top_folder", "/folder/:folder_id", "/file/:file_ref_id/download",
	}
	for _, path := range required {
		methods, ok := discovery[path]
		if !ok {
			return fmt.Errorf("%w: remote does not expose endpoint %s", ErrProtocol, path)
		}
		if _, ok := methods["get"]; !ok {
			return fmt.Errorf("%w: remote endpoint %s does not support GET", ErrProtocol, path)
		}
	}
	return nil
}

var _ RemoteCatalog = (*StudIPCatalog)(nil)
var _ UserInfo = (*StudIPCatalog)(nil)
var _ Discovery = (*StudIPCatalog)(nil)
