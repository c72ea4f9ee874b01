package socialcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/clock"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	updates   []map[string]interface{}
	updateErr error
}

func (f *fakeAccounts) GetByID(context.Context, int64) (*model.Account, error) { return nil, nil }
func (f *fakeAccounts) GetByPlatformUser(context.Context, model.Platform, string) (*model.Account, error) {
	return nil, nil
}
func (f *fakeAccounts) List(context.Context) ([]*model.Account, error) { return nil, nil }
func (f *fakeAccounts) Upsert(context.Context, *model.Account) error   { return nil }
func (f *fakeAccounts) UpdateAccount(_ context.Context, _ int64, fields map[string]interface{}) error {
	f.updates = append(f.updates, fields)
	return f.updateErr
}

type fakeRefresher struct {
	refresh *model.TokenRefresh
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshAccessToken(context.Context, *model.Account) (*model.TokenRefresh, error) {
	f.calls++
	return f.refresh, f.err
}

func newTestCore(accounts *fakeAccounts, clk *clock.Fake, limit int) (*Core, *ratelimit.Limiter) {
	limiter := ratelimit.NewLimiter(cache.NewMemoryStore(), configuration.RateLimit{
		Enabled: true, Limit: limit, WindowSeconds: 60,
	})
	core := New(accounts, limiter, cache.NewResponseCache(cache.NewMemoryStore()), clk, "social")
	return core, limiter
}

func expiringAccount(expiresIn time.Duration, base time.Time) *model.Account {
	expiry := base.Add(expiresIn)
	return &model.Account{
		ID:             7,
		Platform:       model.PlatformTikTok,
		AccessToken:    "old-access",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: &expiry,
		Status:         model.AccountStatusActive,
	}
}

func TestIsTokenExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	core, _ := newTestCore(&fakeAccounts{}, clk, 100)

	assert.False(t, core.IsTokenExpired(&model.Account{TokenExpiresAt: nil}, TokenExpiryBuffer),
		"nil expiry never expires")
	assert.False(t, core.IsTokenExpired(expiringAccount(5*time.Minute+time.Second, base), TokenExpiryBuffer))
	assert.True(t, core.IsTokenExpired(expiringAccount(5*time.Minute-time.Second, base), TokenExpiryBuffer))
	assert.True(t, core.IsTokenExpired(expiringAccount(5*time.Minute, base), TokenExpiryBuffer),
		"boundary counts as expired")
}

func TestEnsureFreshTokenSkipsNonExpiring(t *testing.T) {
	clk := clock.NewFake(time.Now())
	accounts := &fakeAccounts{}
	core, _ := newTestCore(accounts, clk, 100)
	refresher := &fakeRefresher{err: errors.New("should not be called")}

	err := core.EnsureFreshToken(context.Background(), &model.Account{TokenExpiresAt: nil}, refresher)
	require.NoError(t, err)
	assert.Zero(t, refresher.calls)
	assert.Empty(t, accounts.updates)
}

func TestEnsureFreshTokenSuccess(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	accounts := &fakeAccounts{}
	core, _ := newTestCore(accounts, clk, 100)

	newExpiry := base.Add(2 * time.Hour)
	refresher := &fakeRefresher{refresh: &model.TokenRefresh{
		AccessToken: "new-access",
		ExpiresAt:   &newExpiry,
		// No rotated refresh token: the stored one must survive.
	}}
	account := expiringAccount(time.Minute, base)

	require.NoError(t, core.EnsureFreshToken(context.Background(), account, refresher))
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "new-access", account.AccessToken)
	assert.Equal(t, "old-refresh", account.RefreshToken)
	assert.Equal(t, model.AccountStatusActive, account.Status)
	require.Len(t, accounts.updates, 1)
	assert.Equal(t, "new-access", accounts.updates[0]["access_token"])
	assert.Equal(t, "old-refresh", accounts.updates[0]["refresh_token"])
	assert.Equal(t, newExpiry, accounts.updates[0]["token_expires_at"])
	assert.Equal(t, "active", accounts.updates[0]["status"])
}

func TestEnsureFreshTokenFailurePersistsExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	accounts := &fakeAccounts{}
	core, _ := newTestCore(accounts, clk, 100)

	refreshErr := errors.New("upstream said no")
	refresher := &fakeRefresher{err: refreshErr}
	account := expiringAccount(time.Minute, base)

	err := core.EnsureFreshToken(context.Background(), account, refresher)
	require.ErrorIs(t, err, refreshErr)
	assert.Equal(t, model.AccountStatusExpired, account.Status)
	require.Len(t, accounts.updates, 1)
	assert.Equal(t, "expired", accounts.updates[0]["status"])
}

func TestEnsureFreshTokenPersistFailureIsFatal(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	accounts := &fakeAccounts{updateErr: errors.New("db down")}
	core, _ := newTestCore(accounts, clk, 100)

	refresher := &fakeRefresher{refresh: &model.TokenRefresh{AccessToken: "new-access"}}
	err := core.EnsureFreshToken(context.Background(), expiringAccount(time.Minute, base), refresher)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist refreshed token")
}

func TestRequestCachesIdempotentReads(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"value": 42}`)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Now())
	core, _ := newTestCore(&fakeAccounts{}, clk, 100)
	account := &model.Account{Platform: model.PlatformFacebook, AccessToken: "tok"}
	opts := RequestOptions{UseCache: true, CacheTTL: time.Minute}

	first, err := core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL+"/metrics", nil, opts)
	require.NoError(t, err)
	second, err := core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL+"/metrics", nil, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, hits, "second read must be served from cache")
	assert.Equal(t, first, second)
}

func TestRequestRateLimitExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Now())
	core, _ := newTestCore(&fakeAccounts{}, clk, 1)
	account := &model.Account{Platform: model.PlatformThreads, AccessToken: "tok"}

	_, err := core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL, nil, RequestOptions{})
	require.NoError(t, err)
	_, err = core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL, nil, RequestOptions{})
	require.ErrorIs(t, err, model.ErrRateLimitExceeded)
}

func TestRequestUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Now())
	core, _ := newTestCore(&fakeAccounts{}, clk, 100)
	account := &model.Account{Platform: model.PlatformFacebook, AccessToken: "tok"}

	_, err := core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL, nil, RequestOptions{})
	upstream, ok := model.IsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "boom")
}

func TestRequestHeaderMerge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "custom-value", r.Header.Get("X-Custom"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Now())
	core, _ := newTestCore(&fakeAccounts{}, clk, 100)
	account := &model.Account{Platform: model.PlatformFacebook, AccessToken: "tok"}

	_, err := core.Request(context.Background(), account, &fakeRefresher{}, http.MethodGet, srv.URL, nil, RequestOptions{
		Headers: map[string]string{
			"Authorization": "Bearer forged",
			"Accept":        "text/html",
			"X-Custom":      "custom-value",
		},
	})
	require.NoError(t, err)
}

func TestRequestRejectsUnknownMethod(t *testing.T) {
	clk := clock.NewFake(time.Now())
	core, _ := newTestCore(&fakeAccounts{}, clk, 100)
	_, err := core.Request(context.Background(), &model.Account{}, &fakeRefresher{}, "TRACE", "http://example.com", nil, RequestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported HTTP method")
}
