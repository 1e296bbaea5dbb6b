package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	metaFile = "meta.json"
	bodyFile = "body.ics"

	// maxBodySize caps a single feed download.
	maxBodySize = 20 << 20
)

// cacheEntry holds the HTTP validators of one feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// errTooLarge is returned for a feed body over the download cap.
var errTooLarge = errors.New("ics body exceeds size limit")

// fetchResult is the body of a feed, fresh or from the disk cache.
type fetchResult struct {
	Body      []byte
	FromCache bool

	// Stale is set when the cached body stands in for a failed download;
	// Cause is that failure.
	Stale bool
	Cause error

	dir     string
	pending *cacheEntry
}

// fetcher downloads feeds with conditional requests and keeps the last good
// body on disk under cacheDir, one directory per URL hash.
type fetcher struct {
	client   *http.Client
	cacheDir string
	maxBody  int64
	log      *slog.Logger
	now      func() time.Time
}

func newFetcher(client *http.Client, cacheDir string, logger *slog.Logger) *fetcher {
	return &fetcher{client: client, cacheDir: cacheDir, maxBody: maxBodySize, log: logger, now: time.Now}
}

// fetch returns the feed body. A network error or 5xx falls back to the cached
// body when one exists and marks the result stale; 304 always uses it. A fresh
// body is not cached until [fetcher.commit] is called.
func (f *fetcher) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	if rawURL == "" {
		return fetchResult{}, errors.New("feed URL is empty")
	}
	rawURL = normaliseURL(rawURL)

	dir := f.cachePath(rawURL)
	var meta cacheEntry
	var cached []byte
	if dir != "" {
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, bodyFile))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 && ctx.Err() == nil {
			f.log.Warn("ics fetch failed, using cached body", "url", redactURL(rawURL), "error", err)
			return fetchResult{Body: cached, FromCache: true, Stale: true, Cause: err}, nil
		}
		return fetchResult{}, fmt.Errorf("get %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cached) > 0:
		f.log.Debug("ics feed not modified", "url", redactURL(rawURL))
		return fetchResult{Body: cached, FromCache: true}, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return fetchResult{}, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > f.maxBody {
			return fetchResult{}, fmt.Errorf("get %s: %w (%d bytes)", redactURL(rawURL), errTooLarge, f.maxBody)
		}
		res := fetchResult{Body: body, dir: dir}
		if dir != "" {
			res.pending = &cacheEntry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    f.now().UTC(),
			}
		}
		return res, nil

	case resp.StatusCode >= 500 && len(cached) > 0:
		f.log.Warn("ics server error, using cached body", "url", redactURL(rawURL), "status", resp.StatusCode)
		return fetchResult{
			Body:      cached,
			FromCache: true,
			Stale:     true,
			Cause:     fmt.Errorf("server returned status %d", resp.StatusCode),
		}, nil

	default:
		return fetchResult{}, fmt.Errorf("get %s: unexpected status %d", redactURL(rawURL), resp.StatusCode)
	}
}

// commit writes a freshly downloaded body and its validators to the disk
// cache. It is a no-op for cached results.
func (f *fetcher) commit(res fetchResult) {
	if res.pending == nil {
		return
	}
	if err := store(res.dir, *res.pending, res.Body); err != nil {
		f.log.Warn("caching ics body", "url", redactURL(res.pending.URL), "error", err)
	}
}

func (f *fetcher) cachePath(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:]))
}

func loadMeta(dir string) (cacheEntry, error) {
	var meta cacheEntry
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

func store(dir string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, bodyFile), body); err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, metaFile), b)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normaliseURL turns webcal:// subscriptions into https.
func normaliseURL(raw string) string {
	if rest, ok := strings.CutPrefix(raw, "webcal://"); ok {
		return "https://" + rest
	}
	return raw
}

// redactURL drops the query string and user info, which often carry a
// private feed token.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
