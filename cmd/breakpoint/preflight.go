package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/torosent/breakpoint/internal/config"
)

// preflight checks that the target answers before any stage runs. Any status
// below 500 counts as reachable. An empty health path skips the check.
func preflight(ctx context.Context, client *http.Client, cfg *config.Config) error {
	path := strings.TrimSpace(cfg.HealthPath)
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("preflight: target %s is unreachable: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("preflight: target %s answered %d", url, resp.StatusCode)
	}
	return nil
}
