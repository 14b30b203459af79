// Package geoclient fetches layer data from the geo statistics API and
// normalizes its heterogeneous payload shapes into canonical features. The
// client never surfaces an error to callers: network, timeout, and shape
// failures all degrade to an empty or fallback result so the dashboard keeps
// rendering something.
package geoclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geodash/internal/layer"
)

// Tampa center, used to anchor placeholder features synthesized for malformed
// records so partial data failures stay visible on the map.
const (
	FallbackLng = -82.4572
	FallbackLat = 27.9506
)

const defaultTimeout = 10 * time.Second

// Options configures the geo API client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit rate.Limit
}

// Client issues layer data requests against the geo API.
type Client struct {
	http    *http.Client
	baseURL string
	agent   string
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a geo API client with the given options.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geodash/1.0"
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, int(opts.RateLimit)+1)
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		baseURL: opts.BaseURL,
		agent:   opts.UserAgent,
		limiter: limiter,
		log:     zap.L().With(zap.String("component", "geoclient")),
	}
}

// Fetch retrieves and normalizes the feature set for one layer kind. All
// failures are absorbed; the result is empty (density, cluster) or the
// built-in fallback set (neighborhood) when nothing usable came back.
func (c *Client) Fetch(ctx context.Context, kind layer.Kind, params map[string]string) []layer.Feature {
	switch kind {
	case layer.KindDensity:
		return c.fetchDensity(ctx, params)
	case layer.KindCluster:
		return c.fetchClusters(ctx, params)
	case layer.KindNeighborhood:
		return c.fetchNeighborhoods(ctx, params)
	default:
		c.log.Warn("fetch for unknown layer kind", zap.String("kind", kind.String()))
		return nil
	}
}

// getArray performs the GET and decodes a top-level JSON array. A nil return
// means the response was absent, malformed, or non-2xx.
func (c *Client) getArray(ctx context.Context, path string, params map[string]string) []json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.log.Warn("rate limiter wait aborted", zap.String("path", path), zap.Error(err))
			return nil
		}
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.log.Error("bad endpoint URL", zap.String("path", path), zap.Error(err))
		return nil
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.log.Error("build request", zap.String("url", u.String()), zap.Error(err))
		return nil
	}
	req.Header.Set("User-Agent", c.agent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("url", u.String()), zap.Error(err))
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("unexpected status",
			zap.String("url", u.String()),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		c.log.Warn("read body", zap.String("url", u.String()), zap.Error(err))
		return nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		c.log.Warn("payload is not a JSON array", zap.String("url", u.String()), zap.Error(err))
		return nil
	}
	return rows
}
