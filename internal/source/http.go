package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	appLog "actualcal/internal/log"
	"actualcal/internal/model"
)

const defaultCacheDir = "./var/schedule-cache"

// cacheEntry holds HTTP cache metadata for the export URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTP fetches a JSON schedule export with conditional requests
// (ETag / Last-Modified) and keeps the last good body on disk so a
// temporarily unreachable server still yields a feed.
type HTTP struct {
	client   *http.Client
	fs       afero.Fs
	url      string
	cacheDir string
	loc      *time.Location
}

// NewHTTP creates an HTTP source. cacheDir holds per-URL cache entries.
func NewHTTP(fs afero.Fs, url, cacheDir string, loc *time.Location) *HTTP {
	if cacheDir == "" {
		// Caller should set this explicitly; fall back to a relative dir
		// so development runs work without root permissions.
		cacheDir = defaultCacheDir
	}
	return &HTTP{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		fs:       fs,
		url:      url,
		cacheDir: cacheDir,
		loc:      loc,
	}
}

func (h *HTTP) Name() string { return "http:" + redactURL(h.url) }

func (h *HTTP) Schedules(ctx context.Context) ([]model.Schedule, error) {
	body, fromCache, err := h.fetch(ctx)
	if err != nil {
		return nil, err
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode schedule export: %w", err)
	}

	out := ToSchedules(records, h.loc, logInvalid(h.Name()))
	appLog.Debug("http source loaded", "url", redactURL(h.url), "from_cache", fromCache, "active", len(out))
	return out, nil
}

// fetch honors ETag and Last-Modified, falling back to the cached body on
// network errors and non-OK responses.
func (h *HTTP) fetch(ctx context.Context) ([]byte, bool, error) {
	cachePath := h.cachePath()
	if err := h.fs.MkdirAll(cachePath, 0o700); err != nil {
		return nil, false, err
	}

	meta, _ := h.loadCacheMeta(cachePath)
	cachedBody, _ := afero.ReadFile(h.fs, filepath.Join(cachePath, "body.json"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	// Conditional headers from cache metadata.
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("schedule fetch start", "url", redactURL(h.url))

	resp, err := h.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("schedule fetch network error, using cached body", err, "url", redactURL(h.url))
			return cachedBody, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, false, readErr
		}

		newMeta := cacheEntry{
			URL:          h.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := h.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("schedule cache save failed", err, "url", redactURL(h.url))
		}

		appLog.Info("schedule fetch success", "url", redactURL(h.url), "status", resp.StatusCode, "from_cache", false)
		return body, false, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, false, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("schedule fetch not modified; using cache", "url", redactURL(h.url))
		return cachedBody, true, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("schedule fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(h.url), "status", resp.StatusCode)
			return cachedBody, true, nil
		}
		return nil, false, errors.New(resp.Status)
	}
}

func (h *HTTP) cachePath() string {
	sum := sha256.Sum256([]byte(h.url))
	// First 16 hex chars as directory name.
	return filepath.Join(h.cacheDir, hex.EncodeToString(sum[:8]))
}

func (h *HTTP) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := afero.ReadFile(h.fs, filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (h *HTTP) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := afero.WriteFile(h.fs, filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(h.fs, filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query of the export URL for logging.
//
//	https://example.com/budgets/abc/schedules?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "schedules://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
