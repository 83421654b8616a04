package download

import (
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentic-research/coursefs/internal/pathutil"
)

// Cache retains one Download per file ID for the lifetime of the mount, so
// concurrent openers of the same file share a single handle (spec.md §4
// Glossary: "the handle is retained by the HTTP client's per-uid cache").
type Cache struct {
	cacheDir   string
	httpClient *http.Client
	log        *logrus.Entry
	newBar     func() ProgressReporter

	mu        sync.Mutex
	downloads map[string]*Download
}

// NewCache builds a Cache rooted at cacheDir (see SPEC_FULL.md §6.2 for the
// on-disk layout). newBar may be nil, in which case downloads run silently
// (no terminal progress output) — tests and non-interactive mounts should
// pass nil.
func NewCache(cacheDir string, httpClient *http.Client, log *logrus.Entry, newBar func() ProgressReporter) *Cache {
	return &Cache{
		cacheDir:   cacheDir,
		httpClient: httpClient,
		log:        log,
		newBar:     newBar,
		downloads:  make(map[string]*Download),
	}
}

// Get returns the shared Download for fileID, creating it (and its cache
// blob path, via the securejoin-guarded pathutil.CacheBlobPath) on first
// use.
func (c *Cache) Get(fileID string) (*Download, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.downloads[fileID]; ok {
		return d, nil
	}
	localPath, err := pathutil.CacheBlobPath(c.cacheDir, fileID)
	if err != nil {
		return nil, err
	}
	var progress ProgressReporter
	if c.newBar != nil {
		progress = c.newBar()
	}
	d := newDownload(fileID, localPath, c.httpClient, c.log.WithField("component", "download"), progress)
	c.downloads[fileID] = d
	return d, nil
}

// Invalidate drops and resets the cached Download for fileID, if any.
func (c *Cache) Invalidate(fileID string) {
	c.mu.Lock()
	d, ok := c.downloads[fileID]
	c.mu.Unlock()
	if ok {
		d.Invalidate()
	}
}

// Len reports how many distinct files have an associated Download handle,
// used by tests asserting coalescing behavior.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.downloads)
}
