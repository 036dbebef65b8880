// Package clients holds the HTTP lookups the orchestrator makes against the
// cart and user services.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HeaderServiceToken carries the shared secret the collaborator services
// expect on internal calls.
const HeaderServiceToken = "X-Service-Token"

var errNotFound = errors.New("not found")

type base struct {
	url     string
	token   string
	timeout time.Duration
	hc      *http.Client
}

func newBase(url, token string, timeout time.Duration, hc *http.Client) base {
	if hc == nil {
		hc = &http.Client{}
	}
	return base{url: strings.TrimRight(url, "/"), token: token, timeout: timeout, hc: hc}
}

// getJSON decodes a 200 response into out. A 404 returns errNotFound, every
// other failure a plain error the caller maps to its unavailable code.
func (b base) getJSON(ctx context.Context, path string, out any) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set(HeaderServiceToken, b.token)
	}

	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
