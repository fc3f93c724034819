package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	appLog "today/internal/log"
)

// Source is one named calendar.
type Source struct {
	Name string
	// Location is a local file path or an http(s) URL.
	Location string
	// Color is carried through to every occurrence of the calendar.
	Color string
}

// Remote reports whether the source is fetched over HTTP.
func (s Source) Remote() bool {
	return strings.HasPrefix(s.Location, "http://") || strings.HasPrefix(s.Location, "https://")
}

// cacheEntry holds HTTP cache metadata and the last body for a single URL.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Fetcher retrieves ICS payloads from disk or HTTP. HTTP sources are
// fetched conditionally (ETag / Last-Modified) against an in-memory cache.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 15s timeout client.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache:  make(map[string]cacheEntry),
	}
}

// Load fetches and parses one source.
func (f *Fetcher) Load(ctx context.Context, src Source) ([]ParsedEvent, error) {
	body, err := f.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	return Parse(src, body)
}

// Fetch returns the raw payload of src.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if src.Location == "" {
		return nil, errors.New("source location is empty")
	}
	if !src.Remote() {
		body, err := os.ReadFile(src.Location)
		if err != nil {
			return nil, fmt.Errorf("read calendar %s: %w", src.Name, err)
		}
		return body, nil
	}
	return f.fetchHTTP(ctx, src)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, src Source) ([]byte, error) {
	f.mu.Lock()
	meta, cached := f.cache[src.Location]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return nil, err
	}
	if cached {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "source", src.Name, "url", redactURL(src.Location))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read calendar %s: %w", src.Name, err)
		}

		f.mu.Lock()
		f.cache[src.Location] = cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()

		appLog.Debug("ics fetch success", "source", src.Name, "url", redactURL(src.Location), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !cached || len(meta.Body) == 0 {
			return nil, fmt.Errorf("fetch calendar %s: 304 Not Modified but no cached body", src.Name)
		}
		appLog.Debug("ics fetch not modified; using cache", "source", src.Name, "url", redactURL(src.Location))
		return meta.Body, nil

	default:
		return nil, fmt.Errorf("fetch calendar %s: %s", src.Name, resp.Status)
	}
}

// redactURL hides the path and query of an ICS URL, which commonly embed
// a private token.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
