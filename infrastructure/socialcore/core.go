package socialcore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

const (
	// TokenExpiryBuffer is how long before the recorded expiry a token is
	// already treated as expired.
	TokenExpiryBuffer = 5 * time.Minute
	// RequestTimeout bounds every outbound platform call.
	RequestTimeout = 30 * time.Second
)

// TokenRefresher is the slice of the adapter contract the token manager
// needs; adapters pass themselves.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error)
}

// Core bundles the token manager, rate limiter, response cache and HTTP
// transport that every platform adapter composes over (constructor
// injection, no inheritance).
type Core struct {
	accounts    repository.IAccount
	limiter     repository.IRateLimiter
	cache       repository.IResponseCache
	clock       repository.IClock
	client      *http.Client
	cachePrefix string
}

// New builds a core. cache may be nil to disable response caching entirely.
func New(accounts repository.IAccount, limiter repository.IRateLimiter, cache repository.IResponseCache, clk repository.IClock, cachePrefix string) *Core {
	return &Core{
		accounts:    accounts,
		limiter:     limiter,
		cache:       cache,
		clock:       clk,
		client:      &http.Client{Timeout: RequestTimeout},
		cachePrefix: cachePrefix,
	}
}

// HTTPClient exposes the shared 30s-timeout client for flows that cannot go
// through Request (chunk uploads, multipart posts).
func (c *Core) HTTPClient() *http.Client { return c.client }

// Clock exposes the injected clock for polling loops.
func (c *Core) Clock() repository.IClock { return c.clock }

// IsTokenExpired reports whether the account's token is within buffer of its
// recorded expiry. A nil expiry means the token never expires and never
// triggers a refresh, regardless of buffer.
func (c *Core) IsTokenExpired(account *model.Account, buffer time.Duration) bool {
	if account.TokenExpiresAt == nil {
		return false
	}
	return !c.clock.Now().Before(account.TokenExpiresAt.Add(-buffer))
}

// EnsureFreshToken refreshes the account's token when it is expired (with
// TokenExpiryBuffer), persisting the outcome before returning. A failed
// refresh persists status=expired and propagates the refresher's error; it is
// never swallowed. Concurrent calls against the same expiring account may
// both refresh; last write wins.
func (c *Core) EnsureFreshToken(ctx context.Context, account *model.Account, refresher TokenRefresher) error {
	if !c.IsTokenExpired(account, TokenExpiryBuffer) {
		return nil
	}
	refreshed, err := refresher.RefreshAccessToken(ctx, account)
	if err != nil {
		if perr := c.accounts.UpdateAccount(ctx, account.ID, map[string]interface{}{
			"status": string(model.AccountStatusExpired),
		}); perr != nil {
			logger.GetLogger().WithField("error", perr).WithField("account_id", account.ID).
				Error("failed persisting expired status after refresh failure")
		}
		account.Status = model.AccountStatusExpired
		return err
	}

	refreshToken := refreshed.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshToken
	}
	fields := map[string]interface{}{
		"access_token":  refreshed.AccessToken,
		"refresh_token": refreshToken,
		"status":        string(model.AccountStatusActive),
	}
	if refreshed.ExpiresAt != nil {
		fields["token_expires_at"] = *refreshed.ExpiresAt
	}
	if err := c.accounts.UpdateAccount(ctx, account.ID, fields); err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}
	account.AccessToken = refreshed.AccessToken
	account.RefreshToken = refreshToken
	if refreshed.ExpiresAt != nil {
		account.TokenExpiresAt = refreshed.ExpiresAt
	}
	account.Status = model.AccountStatusActive
	return nil
}

// Acquire runs the rate-limit gate for one outbound attempt: fatal when the
// window is full, otherwise the counter is incremented up front so failed
// attempts still count.
func (c *Core) Acquire(ctx context.Context, platform model.Platform) error {
	ok, err := c.limiter.CanMakeRequest(ctx, platform)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", platform, model.ErrRateLimitExceeded)
	}
	return c.limiter.Increment(ctx, platform)
}

// RequestOptions tunes one Request call. Caller headers never override the
// Authorization and Accept headers the transport sets.
type RequestOptions struct {
	Headers  map[string]string
	UseCache bool
	CacheTTL time.Duration
}

// Request executes an authenticated platform call: token check, rate-limit
// gate, optional cache lookup (a hit skips the HTTP call and the counter),
// bearer headers, 30s timeout, and UpstreamError on non-2xx.
func (c *Core) Request(ctx context.Context, account *model.Account, refresher TokenRefresher, method, endpoint string, body []byte, opts RequestOptions) (map[string]interface{}, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported HTTP method %q", method)
	}

	if err := c.EnsureFreshToken(ctx, account, refresher); err != nil {
		return nil, err
	}

	key := c.cacheKey(account.Platform, endpoint, body)
	if opts.UseCache && c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return decodeBody(raw)
		}
	}

	if err := c.Acquire(ctx, account.Platform); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	parsed, err := decodeBody(raw)
	if err != nil {
		return nil, err
	}
	if opts.UseCache && c.cache != nil {
		ttl := opts.CacheTTL
		if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
			logger.GetLogger().WithField("error", err).Warn("response cache write failed")
		}
	}
	return parsed, nil
}

// PlainJSON executes an unauthenticated call with the shared client: OAuth
// exchanges run before any Account exists, so no token, rate or cache layer
// applies. Non-2xx responses surface as UpstreamError.
func (c *Core) PlainJSON(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return decodeBody(raw)
}

// CacheLookup and CacheStore expose the transport's cache keying for flows
// that cannot go through Request (SDK-backed reads). Both are no-ops without
// a cache.
func (c *Core) CacheLookup(ctx context.Context, platform model.Platform, endpoint string, params []byte) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, c.cacheKey(platform, endpoint, params))
	if err != nil || !ok {
		return nil, false
	}
	return raw, true
}

func (c *Core) CacheStore(ctx context.Context, platform model.Platform, endpoint string, params, raw []byte, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(platform, endpoint, params), raw, ttl); err != nil {
		logger.GetLogger().WithField("error", err).Warn("response cache write failed")
	}
}

func (c *Core) cacheKey(platform model.Platform, endpoint string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(body)
	return fmt.Sprintf("%s:%s:%x", c.cachePrefix, platform, h.Sum(nil))
}

// DecodeJSON parses a response body the way the transport does: empty bodies
// decode to an empty object.
func DecodeJSON(raw []byte) (map[string]interface{}, error) {
	return decodeBody(raw)
}

func decodeBody(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed, nil
}
