// Package guardclient is a fasthttp client for the safeguard HTTP API.
package guardclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/pkg/guarddto"
	"github.com/valyala/fasthttp"
)

// HeaderProvider injects per-request headers.
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithHTTPClient swaps the transport, e.g. for an in-memory listener.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError carries a non-2xx response. Domain is set when the body decoded
// as an ErrorResponse.
type APIError struct {
	Status int
	Domain *guarddto.ErrorResponse
	Body   string
}

func (e *APIError) Error() string {
	if e.Domain != nil && e.Domain.Message != "" {
		return fmt.Sprintf("safeguard api: status=%d %s: %s", e.Status, e.Domain.Code, e.Domain.Message)
	}
	return fmt.Sprintf("safeguard api: status=%d body=%s", e.Status, truncate(e.Body, 512))
}

// Kind returns the domain error kind of err, if it is an APIError.
func Kind(err error) guarddto.Kind {
	var ae *APIError
	if errors.As(err, &ae) && ae.Domain != nil {
		return ae.Domain.Kind
	}
	return ""
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, true)
}

func (c *Client) ValidateMatch(ctx context.Context, req guarddto.CreateRequest) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/v1/matches/validate", req, nil, false)
}

func (c *Client) CompleteMatch(ctx context.Context, req guarddto.CompletionRequest) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/v1/matches/complete", req, nil, false)
}

func (c *Client) Eligibility(ctx context.Context, player string) (*guarddto.EligibilityResponse, error) {
	var resp guarddto.EligibilityResponse
	path := "/v1/players/" + url.PathEscape(player) + "/eligibility"
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Penalties(ctx context.Context, player string) (*guarddto.PenaltyHistoryResponse, error) {
	var resp guarddto.PenaltyHistoryResponse
	path := "/v1/players/" + url.PathEscape(player) + "/penalties"
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) IssueToken(ctx context.Context, matchID int64, p1, p2 string) (*guarddto.IssueTokenResponse, error) {
	var resp guarddto.IssueTokenResponse
	req := guarddto.IssueTokenRequest{MatchID: matchID, Player1: p1, Player2: p2}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/tokens", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VerifyToken(ctx context.Context, tok string, matchID int64, p1, p2 string) (bool, error) {
	var resp guarddto.VerifyTokenResponse
	req := guarddto.VerifyTokenRequest{Token: tok, MatchID: matchID, Player1: p1, Player2: p2}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/tokens/verify", req, &resp, true); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *Client) ApplyPenalty(ctx context.Context, req guarddto.PenaltyRequest) (*guarddto.PenaltyView, error) {
	var resp guarddto.PenaltyView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/penalties", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BanIP(ctx context.Context, ip string, seconds int) (*guarddto.IPBanResponse, error) {
	var resp guarddto.IPBanResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/ip-bans", guarddto.IPBanRequest{IP: ip, Seconds: seconds}, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status, Body: string(resp.Body())}
			var er guarddto.ErrorResponse
			if json.Unmarshal(resp.Body(), &er) == nil && er.Message != "" {
				apiErr.Domain = &er
			}
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
