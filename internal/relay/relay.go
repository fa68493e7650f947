// Package relay admits browser uploads and forwards them to the image
// generation service.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
)

const defaultContentType = "application/octet-stream"

var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrCircuitOpen         = errors.New("upstream circuit open")
	ErrResponseTooLarge    = errors.New("upstream response exceeds size limit")
)

// Result is the upstream answer, relayed without transformation.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the upstream answered with a 2xx status.
func (r *Result) OK() bool { return r.Status/100 == 2 }

// Client posts validated uploads to the generation service. It never retries:
// a repeated generation may be billed twice on the far side.
type Client struct {
	endpoint     string
	secret       string
	secretHeader string
	maxResponse  int64
	client       *http.Client
	br           *Breaker
}

type ClientConfig struct {
	Endpoint         string
	Secret           string
	SecretHeader     string // default "authentication"
	Timeout          time.Duration
	MaxResponseBytes int64
	FailThreshold    int
	OpenFor          time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.SecretHeader == "" {
		cfg.SecretHeader = "authentication"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 20 << 20
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		secret:       cfg.Secret,
		secretHeader: cfg.SecretHeader,
		maxResponse:  cfg.MaxResponseBytes,
		client:       &http.Client{Timeout: cfg.Timeout},
		br:           NewBreaker(cfg.FailThreshold, cfg.OpenFor),
	}
}

// Relay forwards body to the generation service. ctx should be the inbound
// request's context so a disconnected browser cancels the upstream call.
func (c *Client) Relay(ctx context.Context, body []byte, contentType string) (*Result, error) {
	if !c.br.TryAcquire() {
		return nil, ErrCircuitOpen
	}

	if contentType == "" {
		contentType = defaultContentType
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.br.Release()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(c.secretHeader, c.secret)

	start := time.Now()
	res, err := c.client.Do(req)
	metrics.RelayUpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			c.br.Release()
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, ctx.Err())
		}
		c.br.OnFailure()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer res.Body.Close()

	out, err := readBounded(res.Body, c.maxResponse)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			c.br.OnFailure()
			return nil, ErrResponseTooLarge
		}
		if ctx.Err() != nil {
			c.br.Release()
			return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamUnreachable, ctx.Err())
		}
		c.br.OnFailure()
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamUnreachable, err)
	}

	if res.StatusCode >= 500 {
		c.br.OnFailure()
	} else {
		c.br.OnSuccess()
	}

	ct := strings.TrimSpace(res.Header.Get("Content-Type"))
	if ct == "" {
		ct = defaultContentType
	}

	return &Result{Status: res.StatusCode, ContentType: ct, Body: out}, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() string { return c.br.State() }
