// Package fetch downloads remotely published timetable documents with HTTP
// caching (ETag / Last-Modified) and a disk-backed cache.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "ttcal/internal/log"
)

// Result is the outcome of fetching a document.
type Result struct {
	URL string
	// Path is the cached copy on disk; extractors read from here.
	Path      string
	FromCache bool // true if we reused the cached body
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	metaFileName = "meta.json"
	bodyFileName = "body.pdf"
)

// Fetcher fetches documents over HTTP and keeps the last good copy on disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	logger   *appLog.Logger
}

// IsRemote reports whether source is an http(s) URL rather than a path.
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewFetcher creates a new Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. Example: "./cache/documents". A nil client or
// logger selects the defaults.
func NewFetcher(cacheDir string, client *http.Client, logger *appLog.Logger) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./cache/documents"
	}
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if logger == nil {
		logger = appLog.Default()
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// Fetch downloads url, honoring ETag and Last-Modified. On network errors
// or non-OK responses it falls back to the cached copy when there is one.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	if url == "" {
		return Result{}, errors.New("source URL is empty")
	}

	cachePath, err := f.cachePathForURL(url)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	bodyPath := filepath.Join(cachePath, bodyFileName)
	meta, _ := f.loadCacheMeta(cachePath)
	hasCache := fileExists(bodyPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}

	// Conditional headers only make sense when the body is still on disk.
	if hasCache {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	f.logger.Info("document fetch start", "url", redactURL(url))

	cached := Result{URL: url, Path: bodyPath, FromCache: true}

	resp, err := f.client.Do(req)
	if err != nil {
		if hasCache {
			f.logger.Error("document fetch network error, using cached body", err, "url", redactURL(url))
			return cached, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, resp.Body); err != nil {
			return Result{}, err
		}
		f.logger.Info("document fetch success", "url", redactURL(url), "status", resp.StatusCode, "from_cache", false)
		return Result{URL: url, Path: bodyPath}, nil

	case http.StatusNotModified:
		if !hasCache {
			return Result{}, errors.New("received 304 Not Modified but no cached body available")
		}
		f.logger.Info("document fetch not modified; using cache", "url", redactURL(url))
		return cached, nil

	default:
		if hasCache {
			f.logger.Error("document fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(url), "status", resp.StatusCode)
			return cached, nil
		}
		return Result{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, metaFileName))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

// saveCache streams the body into place and then writes the metadata, so
// meta never points at a missing body.
func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body io.Reader) error {
	tmp, err := os.CreateTemp(cachePath, ".body-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(cachePath, bodyFileName)); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, metaFileName), data, 0o600)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// redactURL hides sensitive parts of a URL for logging purposes.
func redactURL(u string) string {
	// Example:
	//   https://example.com/path/to/plan.pdf?token=abcd
	// -> https://example.com/...(redacted)
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "url://...(redacted)"
	}
	i += 3

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
