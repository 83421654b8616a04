package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/coursefs/internal/httpclient"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetSemestersFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/semesters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"collection": []map[string]any{
				{"id": "sem-1", "title": "Sommersemester 2026", "begin": 1775000000},
			},
			"pagination": map[string]any{
				"offset": 0, "total": 2,
				"links": map[string]string{"next": "/semesters/page2"},
			},
		})
	})
	mux.HandleFunc("/semesters/page2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"collection": []map[string]any{
				{"id": "sem-2", "title": "Wintersemester 2025", "begin": 1764000000},
			},
			"pagination": map[string]any{"offset": 1, "total": 2, "links": map[string]string{}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(httpclient.Config{}, nil)
	cat := NewStudIPCatalog(client, srv.URL)

	sems, err := cat.GetSemesters(context.Background())
	require.NoError(t, err)
	require.Len(t, sems, 2)
	require.Equal(t, "sem-1", sems[0].ID)
	require.Equal(t, "ss26", sems[0].Lexical)
	require.Equal(t, "sem-2", sems[1].ID)
	require.Equal(t, "ws25", sems[1].Lexical)
}

func TestGetCoursesMapsTypeAndClass(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"user_id": "u-1", "username": "alice"})
	})
	mux.HandleFunc("/studip/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"SEM_TYPE":  map[string]any{"1": map[string]string{"name": "Vorlesung", "class": "1"}},
			"SEM_CLASS": map[string]any{"1": map[string]string{"name": "Lehre"}},
		})
	})
	mux.HandleFunc("/user/u-1/courses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"collection": []map[string]any{
				{"course_id": "c-1", "title": "Algorithmen", "number": "12345", "type": "1"},
			},
			"pagination": map[string]any{"offset": 0, "total": 1, "links": map[string]string{}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(httpclient.Config{}, nil)
	cat := NewStudIPCatalog(client, srv.URL)

	courses, err := cat.GetCourses(context.Background(), Semester{ID: "sem-1"})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "Algorithmen", courses[0].Name)
	require.Equal(t, "Vorlesung", courses[0].Type)
	require.Equal(t, "Lehre", courses[0].Class)
}

func TestGetCourseRootFolderMarksSingleChild(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/course/c-1/top_folder", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"id": "root", "name": "Allgemeiner Dateiordner",
			"file_refs": []map[string]any{{"id": "file-1"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(httpclient.Config{}, nil)
	cat := NewStudIPCatalog(client, srv.URL)

	folder, err := cat.GetCourseRootFolder(context.Background(), Course{ID: "c-1"})
	require.NoError(t, err)
	require.True(t, folder.IsSingleChild)
	require.True(t, folder.IsFolder)
}

func TestGetFileDetailsMapsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/file/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(httpclient.Config{}, nil)
	cat := NewStudIPCatalog(client, srv.URL)

	_, err := cat.GetFileDetails(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckLoginRejectsUsernameMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"user_id": "u-1", "username": "bob"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := httpclient.New(httpclient.Config{}, nil)
	cat := NewStudIPCatalog(client, srv.URL)

	err := cat.CheckLogin(context.Background(), "alice")
	require.ErrorIs(t, err, ErrAuth)
}
