package detector

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single readiness request.
const DefaultProbeTimeout = 400 * time.Millisecond

// ReadyPath is the readiness endpoint served by the backend.
const ReadyPath = "/ready"

// HTTPDetector issues one GET against the backend readiness endpoint.
// The backend is alive only if it answers within Timeout with status 200.
// There are no retries: this is a fast check used to avoid double launches,
// not a wait-until-ready loop.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// ReadyURL returns the readiness URL for host:port.
func ReadyURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + ReadyPath
}

// NewHTTPDetector builds a detector for the readiness endpoint on host:port.
// A non-positive timeout selects DefaultProbeTimeout.
func NewHTTPDetector(host string, port int, timeout time.Duration) HTTPDetector {
	return HTTPDetector{URL: ReadyURL(host, port), Timeout: timeout}
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, fmt.Errorf("request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status=%d", resp.StatusCode)
	}
	return true, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
