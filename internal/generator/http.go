package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yangwenmai/infographer/internal/model"
)

// DefaultURL is the generation endpoint of a locally running service.
const DefaultURL = "http://localhost:8000/generate-infographic"

// maxResponseBody caps how much of a reply is read.
const maxResponseBody = 1 << 20

// HTTPGenerator implements Generator over the service's JSON HTTP API.
type HTTPGenerator struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// HTTPOption configures the HTTP generator.
type HTTPOption func(*HTTPGenerator)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGenerator) { g.httpClient = c }
}

// WithTimeout bounds each generation call. Zero means no limit beyond ctx.
func WithTimeout(d time.Duration) HTTPOption {
	return func(g *HTTPGenerator) { g.timeout = d }
}

// NewHTTPGenerator creates a generator posting to endpoint.
func NewHTTPGenerator(endpoint string, opts ...HTTPOption) *HTTPGenerator {
	g := &HTTPGenerator{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{},
	}
	if g.endpoint == "" {
		g.endpoint = DefaultURL
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type generateRequest struct {
	YouTubeURL string       `json:"youtube_url"`
	Auth       *requestAuth `json:"auth,omitempty"`
}

type requestAuth struct {
	Cookie  string `json:"cookie"`
	ATToken string `json:"at_token"`
}

// Generate posts the address and credential and decodes the reply.
func (g *HTTPGenerator) Generate(ctx context.Context, address string, cred *model.Credential) (*Result, error) {
	reqBody := generateRequest{YouTubeURL: address}
	if cred != nil {
		reqBody.Auth = &requestAuth{Cookie: cred.Cookie, ATToken: cred.ATToken}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
