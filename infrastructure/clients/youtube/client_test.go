package youtube

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/clock"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/ratelimit"
	"social-publisher/infrastructure/socialcore"
	"social-publisher/infrastructure/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yt "google.golang.org/api/youtube/v3"
)

type fakeAPI struct {
	inserted     *yt.Video
	insertErr    error
	thumbCalls   int
	thumbErr     error
	listVideosFn func(ids []string) ([]*yt.Video, error)
	channel      *yt.Channel
}

func (f *fakeAPI) insertVideo(_ context.Context, video *yt.Video, media io.Reader) (*yt.Video, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	_, _ = io.Copy(io.Discard, media)
	f.inserted = video
	return &yt.Video{Id: "vid-123"}, nil
}

func (f *fakeAPI) setThumbnail(_ context.Context, _ string, media io.Reader) error {
	f.thumbCalls++
	_, _ = io.Copy(io.Discard, media)
	return f.thumbErr
}

func (f *fakeAPI) listVideos(_ context.Context, ids []string) ([]*yt.Video, error) {
	return f.listVideosFn(ids)
}

func (f *fakeAPI) myChannel(_ context.Context) (*yt.Channel, error) {
	return f.channel, nil
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	limiter := ratelimit.NewLimiter(cache.NewMemoryStore(), configuration.RateLimit{Enabled: false})
	core := socialcore.New(nil, limiter, nil, clock.NewFake(time.Now()), "social")
	client := NewClient(core, storage.NewLocal(dir), configuration.OAuthClient{
		ClientID: "cid", ClientSecret: "secret", RedirectURI: "http://localhost/cb",
	}, time.Minute)
	client.newAPI = func(context.Context, *http.Client) (mediaAPI, error) { return api, nil }
	return client, dir
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("media-bytes"), 0o644))
}

func activeAccount() *model.Account {
	return &model.Account{ID: 1, Platform: model.PlatformYouTube, Username: "creator", AccessToken: "tok"}
}

func TestPublishVideo(t *testing.T) {
	api := &fakeAPI{}
	client, dir := newTestClient(t, api)
	writeFile(t, dir, "clip.mp4")

	post := &model.Post{
		Title:       "My clip",
		Description: "about things",
		Hashtags:    []string{"golang", "video"},
		VideoPath:   "clip.mp4",
		Metadata:    map[string]string{"privacy": "unlisted"},
	}
	result, err := client.PublishVideo(context.Background(), activeAccount(), post)
	require.NoError(t, err)
	assert.Equal(t, "vid-123", result.PlatformPostID)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-123", result.CanonicalURL)
	require.NotNil(t, api.inserted)
	assert.Equal(t, "My clip", api.inserted.Snippet.Title)
	assert.Equal(t, []string{"golang", "video"}, api.inserted.Snippet.Tags)
	assert.Equal(t, "unlisted", api.inserted.Status.PrivacyStatus)
	assert.Zero(t, api.thumbCalls, "no thumbnail path, no upload")
}

func TestPublishVideoMissingFile(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})
	_, err := client.PublishVideo(context.Background(), activeAccount(), &model.Post{VideoPath: "nope.mp4"})
	require.ErrorIs(t, err, model.ErrPrecondition)
}

func TestPublishVideoThumbnailFailureIsNonFatal(t *testing.T) {
	api := &fakeAPI{thumbErr: errors.New("quota exceeded")}
	client, dir := newTestClient(t, api)
	writeFile(t, dir, "clip.mp4")
	writeFile(t, dir, "thumb.jpg")

	post := &model.Post{Title: "t", VideoPath: "clip.mp4", ThumbnailPath: "thumb.jpg"}
	result, err := client.PublishVideo(context.Background(), activeAccount(), post)
	require.NoError(t, err, "thumbnail failure must not sink the publish")
	assert.Equal(t, "vid-123", result.PlatformPostID)
	assert.Equal(t, 1, api.thumbCalls)
}

func TestPublishVideoThumbnailMissingIsNonFatal(t *testing.T) {
	api := &fakeAPI{}
	client, dir := newTestClient(t, api)
	writeFile(t, dir, "clip.mp4")

	post := &model.Post{Title: "t", VideoPath: "clip.mp4", ThumbnailPath: "missing.jpg"}
	_, err := client.PublishVideo(context.Background(), activeAccount(), post)
	require.NoError(t, err)
	assert.Zero(t, api.thumbCalls)
}

func TestGetPostMetrics(t *testing.T) {
	api := &fakeAPI{listVideosFn: func(ids []string) ([]*yt.Video, error) {
		require.Equal(t, []string{"vid-123"}, ids)
		return []*yt.Video{{
			Statistics:     &yt.VideoStatistics{ViewCount: 1000, LikeCount: 50, CommentCount: 7, FavoriteCount: 2},
			ContentDetails: &yt.VideoContentDetails{Duration: "PT1M30S"},
		}}, nil
	}}
	client, _ := newTestClient(t, api)

	snapshot, err := client.GetPostMetrics(context.Background(), activeAccount(), "vid-123")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snapshot.Views)
	assert.Equal(t, int64(50), snapshot.Likes)
	assert.Equal(t, int64(7), snapshot.Comments)
	assert.Equal(t, int64(90), snapshot.Extras["duration_seconds"])
	assert.Zero(t, snapshot.Shares, "not exposed by the API, zero-filled")
}

func TestGetAccountAnalytics(t *testing.T) {
	api := &fakeAPI{channel: &yt.Channel{
		Id:         "chan-1",
		Statistics: &yt.ChannelStatistics{ViewCount: 9999, SubscriberCount: 321, VideoCount: 12},
	}}
	client, _ := newTestClient(t, api)

	analytics, err := client.GetAccountAnalytics(context.Background(), activeAccount(), time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(9999), analytics.Views)
	assert.Equal(t, int64(321), analytics.Followers)
	assert.Equal(t, int64(12), analytics.Extras["video_count"])
}

func TestGetAudienceInsightsEmpty(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})
	insights, err := client.GetAudienceInsights(context.Background(), activeAccount())
	require.NoError(t, err)
	assert.Empty(t, insights.Countries)
	assert.Empty(t, insights.Cities)
	assert.Empty(t, insights.AgeGender)
}

func TestGetAuthorizationURLCarriesState(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})
	u := client.GetAuthorizationURL("csrf-state")
	assert.Contains(t, u, "state=csrf-state")
	assert.Contains(t, u, "access_type=offline")
}
