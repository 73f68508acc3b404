package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// releaseURLEnv points update checks at a plaintext latest-version
// endpoint. Unset means checks are quietly disabled.
const releaseURLEnv = "TAKO_RELEASE_URL"

// releaseChecker probes the release endpoint and compares against the
// running build. It only reports; callers decide what to do.
type releaseChecker struct {
	current string
	client  *http.Client
}

// Check reports the latest version and whether it differs from the
// running build. No endpoint configured means no update, not an error.
func (c *releaseChecker) Check(ctx context.Context) (string, bool, error) {
	url := os.Getenv(releaseURLEnv)
	if url == "" {
		return c.current, false, nil
	}
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("build update request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("update check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("update check: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", false, fmt.Errorf("read update response: %w", err)
	}
	latest := strings.TrimSpace(string(body))
	if latest == "" {
		return "", false, nil
	}
	return latest, latest != c.current && c.current != "dev", nil
}

// hbUpdate adapts the checker to the heartbeat's narrower contract:
// empty string means nothing new.
type hbUpdate struct{ rc *releaseChecker }

func (h hbUpdate) Check(ctx context.Context) (string, error) {
	latest, available, err := h.rc.Check(ctx)
	if err != nil || !available {
		return "", err
	}
	return latest, nil
}
