// Package poller fetches the two read-mostly REST resources of the agent
// backend, wallet status and the tool catalog, retrying on failure at a fixed
// interval.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const DefaultRetryDelay = 3000 * time.Millisecond

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
}

// CheckHealth calls GET /api/health and expects {"status":"ok"}.
func CheckHealth(ctx context.Context, client *http.Client, url string) error {
	if client == nil {
		client = defaultClient()
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := getJSON(ctx, client, url, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return errors.Errorf("health: unexpected status %q", body.Status)
	}
	return nil
}
