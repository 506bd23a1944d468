package control

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RemoteStop asks a running supervisor's control endpoint to stop.
func RemoteStop(ctx context.Context, addr, reason string) error {
	base := addr
	if !strings.Contains(base, "://") {
		if strings.HasPrefix(base, ":") {
			base = "127.0.0.1" + base
		}
		base = "http://" + base
	}
	endpoint := strings.TrimRight(base, "/") + "/stop?reason=" + url.QueryEscape(reason)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("control endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("control endpoint returned %s", resp.Status)
	}
	return nil
}
