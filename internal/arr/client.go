// Package arr nudges Sonarr/Radarr to scan for a completed download. This is
// peripheral enrichment; failures are logged by the caller and never fail the
// torrent.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

type Instance struct {
	BaseURL string
	APIKey  string
}

// Notifier routes completion notifications by torrent category. Categories
// are matched lower-cased; unknown categories are ignored.
type Notifier struct {
	instances map[string]Instance
	httpc     *http.Client
}

func NewNotifier(instances map[string]Instance) *Notifier {
	norm := make(map[string]Instance, len(instances))
	for cat, inst := range instances {
		if inst.BaseURL == "" {
			continue
		}
		norm[strings.ToLower(cat)] = inst
	}
	return &Notifier{instances: norm, httpc: &http.Client{Timeout: 15 * time.Second}}
}

// NotifyComplete triggers a DownloadedEpisodesScan/DownloadedMoviesScan style
// command for the instance mapped to the torrent's category.
func (n *Notifier) NotifyComplete(ctx context.Context, category, downloadPath string) error {
	inst, ok := n.instances[strings.ToLower(category)]
	if !ok {
		return nil
	}
	u, err := url.Parse(inst.BaseURL)
	if err != nil {
		return fmt.Errorf("parse arr url: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v3/command")

	command := "DownloadedEpisodesScan"
	if strings.ToLower(category) == "radarr" {
		command = "DownloadedMoviesScan"
	}
	body, _ := json.Marshal(map[string]string{
		"name": command,
		"path": downloadPath,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", inst.APIKey)

	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("arr command http %d", resp.StatusCode)
	}
	return nil
}
