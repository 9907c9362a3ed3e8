package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds one discovery request.
const DefaultHTTPTimeout = 10 * time.Second

// maxResponseSize caps the discovery response body.
const maxResponseSize = 4 << 10

// HTTPResolver asks a cluster discovery endpoint for the hub host.
type HTTPResolver struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPResolver creates a resolver using client. A nil client gets
// DefaultHTTPTimeout.
func NewHTTPResolver(client *http.Client, logger *slog.Logger) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPResolver{client: client, logger: logger}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, q Query) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	if q.Cluster == "" {
		return "", fmt.Errorf("%w: missing cluster", ErrInvalidQuery)
	}

	endpoint := strings.TrimSuffix(q.Cluster, "/") + "/" + q.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("discovery request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("discovery request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read discovery response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, q)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("discovery %s: %d %s", q, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	host := strings.TrimSpace(string(body))
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, q)
	}

	url := wsURL(host, strings.HasPrefix(q.Cluster, "https://"), "/")
	r.logger.Debug("resolved hub", "query", q.String(), "url", url)
	return url, nil
}

var _ Resolver = (*HTTPResolver)(nil)
