// Package realdebrid is a minimal Real-Debrid REST client covering the
// torrent and unrestrict endpoints the manager needs.
package realdebrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/tinoosan/debrix/internal/metrics"
)

const DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Err wraps a Real-Debrid API error with its HTTP status.
type Err struct {
	Status  int
	Message string
	Code    int
}

func (e *Err) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("real-debrid: %s (http %d, code %d)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("real-debrid: http %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RDAPIErrors.WithLabelValues(path).Inc()
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RDAPIErrors.WithLabelValues(path).Inc()
		b, _ := io.ReadAll(resp.Body)
		var apiErr APIError
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Message != "" {
			return &Err{Status: resp.StatusCode, Message: apiErr.Message, Code: apiErr.ErrorCode}
		}
		return &Err{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// get wraps read calls with a short transient-retry policy; writes are not
// retried so side effects stay single-shot.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error { return c.do(ctx, http.MethodGet, path, nil, out) },
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var rdErr *Err
			if errors.As(err, &rdErr) {
				return rdErr.Status >= 500 || rdErr.Status == http.StatusTooManyRequests
			}
			return true
		}),
	)
}

// Torrents lists the user's remote torrents.
func (c *Client) Torrents(ctx context.Context) ([]TorrentInfo, error) {
	var out []TorrentInfo
	if err := c.get(ctx, "/torrents?limit=100", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Torrent fetches detailed info for one remote torrent.
func (c *Client) Torrent(ctx context.Context, id string) (*TorrentInfo, error) {
	var out TorrentInfo
	if err := c.get(ctx, "/torrents/info/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMagnet submits a magnet link.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddTorrentResponse, error) {
	form := url.Values{"magnet": {magnet}}
	var out AddTorrentResponse
	if err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddTorrentFile uploads raw .torrent bytes.
func (c *Client) AddTorrentFile(ctx context.Context, raw []byte) (*AddTorrentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/torrents/addTorrent", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-bittorrent")
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RDAPIErrors.WithLabelValues("/torrents/addTorrent").Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RDAPIErrors.WithLabelValues("/torrents/addTorrent").Inc()
		b, _ := io.ReadAll(resp.Body)
		return nil, &Err{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	var out AddTorrentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode addTorrent response: %w", err)
	}
	return &out, nil
}

// SelectFiles marks files for download. fileIDs is a comma separated list of
// file IDs, or "all".
func (c *Client) SelectFiles(ctx context.Context, id, fileIDs string) error {
	form := url.Values{"files": {fileIDs}}
	return c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), form, nil)
}

// Unrestrict converts a restricted share link into a direct download URL.
func (c *Client) Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error) {
	form := url.Values{"link": {link}}
	var out UnrestrictedLink
	if err := c.do(ctx, http.MethodPost, "/unrestrict/link", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the torrent from the user's Real-Debrid account.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(id), nil, nil)
	var rdErr *Err
	if errors.As(err, &rdErr) && rdErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}
