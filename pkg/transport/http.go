// ABOUTME: HTTP client for the chunk server
// ABOUTME: Fetches track metadata, individual chunks and whole-track streams
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Resonate-Protocol/chunkplay/pkg/fetch"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
)

// CacheTierHeader carries the server cache tier that served a chunk
const CacheTierHeader = "X-Cache-Tier"

// StatusError is a non-200 response from the chunk server
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
}

// HTTP talks to a chunk server rooted at a base URL
type HTTP struct {
	base      *url.URL
	client    *http.Client
	userAgent string
}

// NewHTTP creates a client for baseURL. A nil client uses http.DefaultClient.
func NewHTTP(baseURL string, client *http.Client) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{base: base, client: client}, nil
}

// SetUserAgent sets the User-Agent sent with every request
func (h *HTTP) SetUserAgent(ua string) {
	h.userAgent = ua
}

// FetchChunk downloads one encoded chunk
func (h *HTTP) FetchChunk(ctx context.Context, req fetch.Request) (*fetch.Payload, error) {
	u := h.endpoint(req.TrackID, "chunks/"+strconv.Itoa(req.Index), req.Mode, req.Preset)
	data, header, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}
	return &fetch.Payload{Data: data, Tier: header.Get(CacheTierHeader)}, nil
}

// FetchMetadata returns the chunk layout of a track in the given mode
func (h *HTTP) FetchMetadata(ctx context.Context, trackID, mode, preset string) (track.Metadata, error) {
	u := h.endpoint(trackID, "metadata", mode, preset)
	data, _, err := h.get(ctx, u)
	if err != nil {
		return track.Metadata{}, err
	}

	var meta track.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return track.Metadata{}, fmt.Errorf("failed to parse metadata for %s: %w", trackID, err)
	}
	return meta, nil
}

// FetchTrack downloads a whole enhanced track in one response
func (h *HTTP) FetchTrack(ctx context.Context, trackID, preset string) (*fetch.Payload, error) {
	u := h.endpoint(trackID, "stream", "enhanced", preset)
	data, header, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}
	return &fetch.Payload{Data: data, Tier: header.Get(CacheTierHeader)}, nil
}

func (h *HTTP) endpoint(trackID, resource, mode, preset string) string {
	u := *h.base
	u.Path = h.base.Path + "/tracks/" + trackID + "/" + resource
	u.RawPath = h.base.EscapedPath() + "/tracks/" + url.PathEscape(trackID) + "/" + resource

	q := url.Values{}
	if mode != "" {
		q.Set("mode", mode)
	}
	if preset != "" {
		q.Set("preset", preset)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *HTTP) get(ctx context.Context, u string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &StatusError{URL: u, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	return data, resp.Header, nil
}
