// Package aria2dl delegates downloads to an aria2c daemon over JSON-RPC.
package aria2dl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/debrix/internal/metrics"
	"github.com/tinoosan/debrix/internal/worker"
)

// Client talks to the aria2 JSON-RPC endpoint. The HTTP client carries a
// 10 second total timeout per request.
type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

func NewClient(rawURL, secret string) (*Client, error) {
	if rawURL == "" {
		rawURL = "http://127.0.0.1:6800/jsonrpc"
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse aria2 url: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// --- JSON-RPC wire types ---

type rpcReq struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	timer := prometheus.NewTimer(metrics.Aria2RPCLatency.WithLabelValues(method))
	defer timer.ObserveDuration()
	body, _ := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: "debrix", Params: params})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 http %d: %s", resp.StatusCode, string(b))
	}
	b, _ := io.ReadAll(resp.Body)

	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 rpc decode: %w (%s)", err, string(b))
	}
	if rr.Error != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	return rr.Result, nil
}

// tokenParam returns the "token:<secret>" first param aria2 expects when a
// secret is configured.
func (c *Client) tokenParam() []interface{} {
	if c.secret != "" {
		return []interface{}{"token:" + c.secret}
	}
	return nil
}

// AddURI submits a single URI transfer: aria2.addUri([token?, [uri], options]).
func (c *Client) AddURI(ctx context.Context, uri, dir, out string) (string, error) {
	params := make([]interface{}, 0, 3)
	if tok := c.tokenParam(); tok != nil {
		params = append(params, tok...)
	}
	params = append(params, []string{uri})
	opts := map[string]string{}
	if dir != "" {
		opts["dir"] = dir
	}
	if out != "" {
		opts["out"] = out
	}
	params = append(params, opts)

	res, err := c.call(ctx, "aria2.addUri", params)
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil {
		return "", fmt.Errorf("parse addUri result: %w", err)
	}
	return gid, nil
}

// Remove cancels a transfer and forgets its result.
func (c *Client) Remove(ctx context.Context, gid string) error {
	params := append(c.tokenParam(), gid)
	if _, err := c.call(ctx, "aria2.remove", params); err != nil {
		return err
	}
	_, err := c.call(ctx, "aria2.removeDownloadResult", append(c.tokenParam(), gid))
	return err
}

// statusResp is a partial view of aria2 status objects. Numeric values are
// decimal strings.
type statusResp struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	ErrorMessage    string `json:"errorMessage"`
}

var statusKeys = []string{"gid", "status", "totalLength", "completedLength", "errorMessage"}

// TellAll aggregates active, waiting and stopped transfers into one result so
// the poller issues a constant number of requests per tick regardless of how
// many workers are running.
func (c *Client) TellAll(ctx context.Context) ([]worker.BulkStatus, error) {
	var all []statusResp

	res, err := c.call(ctx, "aria2.tellActive", append(c.tokenParam(), statusKeys))
	if err != nil {
		return nil, err
	}
	var active []statusResp
	if err := json.Unmarshal(res, &active); err != nil {
		return nil, fmt.Errorf("parse tellActive: %w", err)
	}
	all = append(all, active...)

	for _, method := range []string{"aria2.tellWaiting", "aria2.tellStopped"} {
		params := append(c.tokenParam(), 0, 1000, statusKeys)
		res, err := c.call(ctx, method, params)
		if err != nil {
			return nil, err
		}
		var batch []statusResp
		if err := json.Unmarshal(res, &batch); err != nil {
			return nil, fmt.Errorf("parse %s: %w", method, err)
		}
		all = append(all, batch...)
	}

	out := make([]worker.BulkStatus, 0, len(all))
	for _, sr := range all {
		out = append(out, worker.BulkStatus{
			RemoteID:     sr.GID,
			Status:       sr.Status,
			BytesDone:    parseLength(sr.CompletedLength),
			BytesTotal:   parseLength(sr.TotalLength),
			ErrorMessage: sr.ErrorMessage,
		})
	}
	return out, nil
}

func parseLength(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
