// Package upstream talks to the tag feed: topic bootstrap pages, the paginated
// query surface, script bundles and media downloads.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/metrics"
)

// Request kinds, used for metrics and logs.
const (
	kindBootstrap = "bootstrap"
	kindPage      = "page"
	kindBundle    = "bundle"
	kindImage     = "image"
)

// Config controls the upstream client.
type Config struct {
	BaseURL   string
	UserAgent string
	PageSize  int
	Timeout   time.Duration
	// MaxImageBytes caps media downloads; zero keeps colly's default.
	MaxImageBytes int
	Resolver      BundleResolverConfig
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client implements crawler.Seeder, crawler.PageFetcher and crawler.ImageFetcher.
type Client struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
	limiter       Waiter
	resolver      crawler.ProtocolResolver
	logger        *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter paces every request through w.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithResolver replaces the bundle-based protocol id resolver.
func WithResolver(r crawler.ProtocolResolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithTransport swaps the HTTP transport (tests use httptest transports).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.baseCollector.WithTransport(rt) }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(newHTTPTransport())
	collector.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	if cfg.MaxImageBytes > 0 {
		collector.MaxBodySize = cfg.MaxImageBytes
	}

	c := &Client{
		cfg:           cfg,
		base:          base,
		baseCollector: collector,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	if c.resolver == nil {
		resolver, err := NewBundleResolver(c, cfg.Resolver)
		if err != nil {
			return nil, err
		}
		c.resolver = resolver
	}
	return c, nil
}

// Resolver returns the protocol id resolver in use.
func (c *Client) Resolver() crawler.ProtocolResolver {
	return c.resolver
}

// FetchImage downloads raw image bytes. An empty 2xx body is returned as is;
// the caller decides whether the bytes are an image.
func (c *Client) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, kindImage, rawURL, nil)
}

// FetchBundle downloads a script bundle referenced by the bootstrap page.
func (c *Client) FetchBundle(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, kindBundle, c.resolveURL(rawURL), nil)
}

func (c *Client) resolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// get performs one GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, kind, rawURL string, headers http.Header) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	err := runCollector(ctx, collector, rawURL, &fetchErr)
	if err != nil && errors.Is(err, errCollectorCanceled) {
		metrics.ObserveUpstream(kind, "canceled", 0)
		return nil, fmt.Errorf("upstream %s: %w", kind, err)
	}
	logger := c.logger.With(
		zap.String("kind", kind),
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		metrics.ObserveUpstream(kind, "error", 0)
		logger.Debug("upstream request failed", zap.Error(err))
		if status != 0 {
			if statusErr := classifyStatus(status); statusErr != nil {
				return nil, statusErr
			}
		}
		return nil, networkError(err)
	}
	if statusErr := classifyStatus(status); statusErr != nil {
		metrics.ObserveUpstream(kind, fmt.Sprintf("%d", status), len(body))
		logger.Debug("upstream request rejected")
		return nil, statusErr
	}
	metrics.ObserveUpstream(kind, "ok", len(body))
	logger.Debug("upstream request completed", zap.Int("bytes", len(body)))
	return body, nil
}

var errCollectorCanceled = errors.New("colly fetch canceled")

// runCollector visits rawURL and returns early on cancellation. The collector
// carries ctx, so the in-flight request is aborted rather than left to time out.
func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errCollectorCanceled, ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", errCollectorCanceled, ctxErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
