package ready

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTP checks readiness by making an HTTP GET request to a fixed URL.
// Any response with a status in [200,400) is considered ready; redirects
// count, since a booting dev server that already answers 3xx is serving.
type HTTP struct {
	URL string
}

func (h *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}

	client := &http.Client{
		Timeout: 2 * time.Second,
		// Redirect targets may not be up yet; the 3xx itself is the signal.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (h *HTTP) Target() string { return h.URL }
