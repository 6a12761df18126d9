package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/torosent/pulse/internal/tracing"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 512

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// NewClient returns an HTTP client tuned for many short requests to one host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// HTTPRequester issues GET requests against the demo host routes.
type HTTPRequester struct {
	client    *http.Client
	baseURL   string
	failRatio float64
	routes    []string

	mu  sync.Mutex
	rng *rand.Rand
	n   int
}

// NewHTTPRequester returns a requester for the demo host at baseURL. A share
// failRatio of requests goes to FailRoute. A nil client uses NewClient(10s).
func NewHTTPRequester(baseURL string, failRatio float64, client *http.Client) *HTTPRequester {
	if client == nil {
		client = NewClient(10 * time.Second)
	}
	return &HTTPRequester{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		failRatio: failRatio,
		routes:    DemoRoutes,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next picks the failing route with probability failRatio, otherwise cycles
// through the regular routes.
func (h *HTTPRequester) next() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failRatio > 0 && h.rng.Float64() < h.failRatio {
		return FailRoute
	}
	route := h.routes[h.n%len(h.routes)]
	h.n++
	return route
}

// Do implements Requester.
func (h *HTTPRequester) Do(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+h.next(), nil)
	if err != nil {
		return err
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
