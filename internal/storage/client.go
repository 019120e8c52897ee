// Package storage queries the network-attached content store for file-count
// signals. An unreachable or unknown location yields no signal — never a
// zero count — so the workflow monitor cannot mistake an outage for an
// empty folder.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"studiosync/internal/config"

	"github.com/rs/zerolog"
)

// Stats holds the file counts for one external storage reference.
type Stats struct {
	Raw      int `json:"raw"`
	Selected int `json:"selected"`
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *zerolog.Logger
}

func NewClient(cfg config.StorageConfig, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout()},
		logger:  logger,
	}
}

// GetStats fetches counts for an external storage reference. A nil Stats
// with nil error means the location is unknown to the store (no signal).
func (c *Client) GetStats(ctx context.Context, ref string) (*Stats, error) {
	endpoint := fmt.Sprintf("%s/stats?path=%s", c.baseURL, url.QueryEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stats request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read stats response: %w", err)
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return &stats, nil
}
