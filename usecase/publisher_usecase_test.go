package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"social-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	byID     map[int64]*model.Account
	upserted []*model.Account
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	acc, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("account %d not found", id)
	}
	return acc, nil
}

func (f *fakeAccounts) GetByPlatformUser(_ context.Context, platform model.Platform, platformUserID string) (*model.Account, error) {
	for _, acc := range f.byID {
		if acc.Platform == platform && acc.PlatformUserID == platformUserID {
			return acc, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAccounts) List(_ context.Context) ([]*model.Account, error) {
	var out []*model.Account
	for _, acc := range f.byID {
		out = append(out, acc)
	}
	return out, nil
}

func (f *fakeAccounts) Upsert(_ context.Context, account *model.Account) error {
	account.ID = int64(len(f.upserted) + 1)
	f.upserted = append(f.upserted, account)
	return nil
}

func (f *fakeAccounts) UpdateAccount(_ context.Context, id int64, fields map[string]interface{}) error {
	return nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

type fakeStorage struct{ files map[string][]byte }

func (f *fakeStorage) Open(path string) (io.ReadSeekCloser, int64, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, 0, fmt.Errorf("file not found: %s", path)
	}
	return nopCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

type fakeAdapter struct {
	platform   model.Platform
	grant      *model.AuthGrant
	publishErr error
	published  []*model.Post
	metrics    *model.MetricsSnapshot
}

func (f *fakeAdapter) Platform() model.Platform { return f.platform }

func (f *fakeAdapter) GetAuthorizationURL(state string) string {
	return "https://auth.example.com/?state=" + state
}

func (f *fakeAdapter) HandleCallback(_ context.Context, code string) (*model.AuthGrant, error) {
	if f.grant == nil {
		return nil, errors.New("exchange failed")
	}
	return f.grant, nil
}

func (f *fakeAdapter) RefreshAccessToken(_ context.Context, _ *model.Account) (*model.TokenRefresh, error) {
	return nil, model.ErrUnsupportedOperation
}

func (f *fakeAdapter) PublishVideo(_ context.Context, _ *model.Account, post *model.Post) (*model.PublishResult, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, post)
	return &model.PublishResult{PlatformPostID: "post-1", CanonicalURL: "https://example.com/post-1"}, nil
}

func (f *fakeAdapter) GetPostMetrics(_ context.Context, _ *model.Account, _ string) (*model.MetricsSnapshot, error) {
	return f.metrics, nil
}

func (f *fakeAdapter) GetAccountAnalytics(_ context.Context, _ *model.Account, _, _ time.Time) (*model.AccountAnalytics, error) {
	return model.ZeroAnalytics(), nil
}

func (f *fakeAdapter) GetAudienceInsights(_ context.Context, _ *model.Account) (*model.AudienceInsights, error) {
	return model.EmptyAudienceInsights(), nil
}

func TestHandleCallbackPersistsAccount(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	adapter := &fakeAdapter{
		platform: model.PlatformTikTok,
		grant: &model.AuthGrant{
			AccessToken:  "acc",
			RefreshToken: "ref",
			ExpiresAt:    &expiry,
			Scopes:       "video.publish",
			User: model.UserInfo{
				PlatformUserID: "open-1",
				Username:       "dancer",
				Name:           "Dancer",
				Metadata:       map[string]string{"open_id": "open-1"},
			},
		},
	}
	accounts := &fakeAccounts{byID: map[int64]*model.Account{}}
	pub := NewPublisher(accounts, &fakeStorage{}, adapter)

	acc, err := pub.HandleCallback(context.Background(), model.PlatformTikTok, "the-code")
	require.NoError(t, err)
	require.Len(t, accounts.upserted, 1)
	assert.Equal(t, int64(1), acc.ID)
	assert.Equal(t, "open-1", acc.PlatformUserID)
	assert.Equal(t, "acc", acc.AccessToken)
	assert.Equal(t, model.AccountStatusActive, acc.Status)
	require.NotNil(t, acc.TokenExpiresAt)
}

func TestHandleCallbackRequiresCode(t *testing.T) {
	pub := NewPublisher(&fakeAccounts{}, &fakeStorage{}, &fakeAdapter{platform: model.PlatformYouTube})
	_, err := pub.HandleCallback(context.Background(), model.PlatformYouTube, "")
	require.Error(t, err)
}

func TestHandleCallbackUnsupportedPlatform(t *testing.T) {
	pub := NewPublisher(&fakeAccounts{}, &fakeStorage{}, &fakeAdapter{platform: model.PlatformYouTube})
	_, err := pub.HandleCallback(context.Background(), model.PlatformTikTok, "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform")
}

func TestPublishVideoMediaPrecondition(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]*model.Account{
		1: {ID: 1, Platform: model.PlatformYouTube},
	}}
	pub := NewPublisher(accounts, &fakeStorage{files: map[string][]byte{}}, &fakeAdapter{platform: model.PlatformYouTube})

	_, err := pub.PublishVideo(context.Background(), 1, &model.Post{VideoPath: "missing.mp4"})
	require.ErrorIs(t, err, model.ErrPrecondition)
}

func TestPublishVideoURLIngestSkipsLocalProbe(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]*model.Account{
		1: {ID: 1, Platform: model.PlatformInstagram},
	}}
	adapter := &fakeAdapter{platform: model.PlatformInstagram}
	pub := NewPublisher(accounts, &fakeStorage{files: map[string][]byte{}}, adapter)

	post := &model.Post{Metadata: map[string]string{"video_url": "https://cdn.example.com/clip.mp4"}}
	result, err := pub.PublishVideo(context.Background(), 1, post)
	require.NoError(t, err, "a reachable URL satisfies the media check without a local file")
	assert.Equal(t, "post-1", result.PlatformPostID)
	require.Len(t, adapter.published, 1)
}

func TestPublishToManyPartialFailure(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]*model.Account{
		1: {ID: 1, Platform: model.PlatformYouTube},
		2: {ID: 2, Platform: model.PlatformTikTok},
	}}
	storage := &fakeStorage{files: map[string][]byte{"clip.mp4": []byte("frames")}}
	good := &fakeAdapter{platform: model.PlatformYouTube}
	bad := &fakeAdapter{platform: model.PlatformTikTok, publishErr: model.ErrRateLimitExceeded}
	pub := NewPublisher(accounts, storage, good, bad)

	outcomes := pub.PublishToMany(context.Background(), []int64{2, 1}, &model.Post{VideoPath: "clip.mp4"})
	require.Len(t, outcomes, 2)
	assert.Equal(t, int64(1), outcomes[0].AccountID, "outcomes come back ordered by account id")
	assert.NotNil(t, outcomes[0].Result)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, int64(2), outcomes[1].AccountID)
	assert.Nil(t, outcomes[1].Result)
	assert.Contains(t, outcomes[1].Error, model.ErrRateLimitExceeded.Error())
}

func TestPublishToManyUnknownAccount(t *testing.T) {
	accounts := &fakeAccounts{byID: map[int64]*model.Account{}}
	pub := NewPublisher(accounts, &fakeStorage{}, &fakeAdapter{platform: model.PlatformYouTube})

	outcomes := pub.PublishToMany(context.Background(), []int64{42}, &model.Post{VideoPath: "clip.mp4"})
	require.Len(t, outcomes, 1)
	assert.NotEmpty(t, outcomes[0].Error)
}

func TestGetPostMetricsDispatches(t *testing.T) {
	snapshot := model.ZeroMetrics()
	snapshot.Views = 77
	accounts := &fakeAccounts{byID: map[int64]*model.Account{
		1: {ID: 1, Platform: model.PlatformThreads},
	}}
	pub := NewPublisher(accounts, &fakeStorage{}, &fakeAdapter{platform: model.PlatformThreads, metrics: snapshot})

	got, err := pub.GetPostMetrics(context.Background(), 1, "post-1")
	require.NoError(t, err)
	assert.Equal(t, int64(77), got.Views)
}

func TestGetAuthorizationURL(t *testing.T) {
	pub := NewPublisher(&fakeAccounts{}, &fakeStorage{}, &fakeAdapter{platform: model.PlatformFacebook})

	u, err := pub.GetAuthorizationURL(model.PlatformFacebook, "state-1")
	require.NoError(t, err)
	assert.Contains(t, u, "state=state-1")

	_, err = pub.GetAuthorizationURL(model.PlatformInstagram, "state-1")
	require.Error(t, err)
}
