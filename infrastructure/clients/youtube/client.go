package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/socialcore"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// uploadChunkSize is the resumable-upload chunk size for video and thumbnail
// media.
const uploadChunkSize = 1 << 20

// mediaAPI is the slice of the YouTube Data API the adapter touches, kept
// behind an interface so tests can stand in for the SDK.
type mediaAPI interface {
	insertVideo(ctx context.Context, video *yt.Video, media io.Reader) (*yt.Video, error)
	setThumbnail(ctx context.Context, videoID string, media io.Reader) error
	listVideos(ctx context.Context, ids []string) ([]*yt.Video, error)
	myChannel(ctx context.Context) (*yt.Channel, error)
}

type ytAPI struct{ svc *yt.Service }

func (a ytAPI) insertVideo(ctx context.Context, video *yt.Video, media io.Reader) (*yt.Video, error) {
	return a.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(media, googleapi.ChunkSize(uploadChunkSize)).
		Context(ctx).Do()
}

func (a ytAPI) setThumbnail(ctx context.Context, videoID string, media io.Reader) error {
	_, err := a.svc.Thumbnails.Set(videoID).
		Media(media, googleapi.ChunkSize(uploadChunkSize)).
		Context(ctx).Do()
	return err
}

func (a ytAPI) listVideos(ctx context.Context, ids []string) ([]*yt.Video, error) {
	resp, err := a.svc.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
		Id(strings.Join(ids, ",")).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a ytAPI) myChannel(ctx context.Context) (*yt.Channel, error) {
	resp, err := a.svc.Channels.List([]string{"id", "snippet", "statistics"}).
		Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("no channel found for authenticated user")
	}
	return resp.Items[0], nil
}

// Client publishes to YouTube through the official Data API v3.
type Client struct {
	core     *socialcore.Core
	storage  repository.IStorage
	oauth    *oauth2.Config
	cacheTTL time.Duration

	// newAPI is swappable in tests.
	newAPI func(ctx context.Context, httpClient *http.Client) (mediaAPI, error)
}

func NewClient(core *socialcore.Core, storage repository.IStorage, creds configuration.OAuthClient, cacheTTL time.Duration) *Client {
	return &Client{
		core:    core,
		storage: storage,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Scopes: []string{
				yt.YoutubeScope,
				yt.YoutubeUploadScope,
				yt.YoutubeReadonlyScope,
			},
			Endpoint: google.Endpoint,
		},
		cacheTTL: cacheTTL,
		newAPI: func(ctx context.Context, httpClient *http.Client) (mediaAPI, error) {
			svc, err := yt.NewService(ctx, option.WithHTTPClient(httpClient))
			if err != nil {
				return nil, fmt.Errorf("create youtube service: %w", err)
			}
			return ytAPI{svc: svc}, nil
		},
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformYouTube }

func (c *Client) GetAuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (c *Client) HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error) {
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube code exchange: %v", model.ErrAuthExchange, err)
	}
	api, err := c.apiForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	channel, err := api.myChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve youtube channel: %v", model.ErrAuthExchange, err)
	}

	grant := &model.AuthGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scopes:       strings.Join(c.oauth.Scopes, " "),
		User: model.UserInfo{
			PlatformUserID: channel.Id,
			Username:       strings.TrimPrefix(channel.Snippet.CustomUrl, "@"),
			Name:           channel.Snippet.Title,
		},
	}
	if grant.User.Username == "" {
		grant.User.Username = channel.Id
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		grant.ExpiresAt = &expiry
	}
	if channel.Snippet.Thumbnails != nil && channel.Snippet.Thumbnails.Default != nil {
		grant.User.AvatarURL = channel.Snippet.Thumbnails.Default.Url
	}
	return grant, nil
}

func (c *Client) RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error) {
	if account.RefreshToken == "" {
		return nil, fmt.Errorf("%w: youtube account %d has no refresh token", model.ErrAuthExchange, account.ID)
	}
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: youtube token refresh: %v", model.ErrAuthExchange, err)
	}
	refresh := &model.TokenRefresh{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		refresh.ExpiresAt = &expiry
	}
	return refresh, nil
}

// PublishVideo uploads the post's video in 1MB resumable chunks, then
// attempts the thumbnail. The thumbnail upload is best effort: any failure is
// logged and the publish result still stands.
func (c *Client) PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error) {
	if err := c.core.EnsureFreshToken(ctx, account, c); err != nil {
		return nil, err
	}
	if err := c.core.Acquire(ctx, account.Platform); err != nil {
		return nil, err
	}
	api, err := c.apiForAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	media, _, err := c.storage.Open(post.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPrecondition, err)
	}
	defer media.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       post.Title,
			Description: post.Description,
			Tags:        post.Hashtags,
			CategoryId:  post.Meta("category_id", ""),
		},
		Status: &yt.VideoStatus{
			PrivacyStatus: post.Meta("privacy", "public"),
		},
	}
	uploaded, err := api.insertVideo(ctx, video, media)
	if err != nil {
		return nil, fmt.Errorf("youtube video upload: %w", err)
	}
	if uploaded == nil || uploaded.Id == "" {
		return nil, fmt.Errorf("youtube video upload incomplete")
	}

	c.uploadThumbnail(ctx, account, api, uploaded.Id, post.ThumbnailPath)

	return &model.PublishResult{
		PlatformPostID: uploaded.Id,
		CanonicalURL:   fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}, nil
}

func (c *Client) uploadThumbnail(ctx context.Context, account *model.Account, api mediaAPI, videoID, path string) {
	if path == "" {
		return
	}
	log := logger.GetLogger().WithField("video_id", videoID)
	thumb, _, err := c.storage.Open(path)
	if err != nil {
		log.WithField("error", err).Warn("thumbnail open failed, keeping video result")
		return
	}
	defer thumb.Close()
	if err := c.core.Acquire(ctx, account.Platform); err != nil {
		log.WithField("error", err).Warn("thumbnail upload skipped, keeping video result")
		return
	}
	if err := api.setThumbnail(ctx, videoID, thumb); err != nil {
		log.WithField("error", err).Warn("thumbnail upload failed, keeping video result")
	}
}

func (c *Client) GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error) {
	if err := c.core.EnsureFreshToken(ctx, account, c); err != nil {
		return nil, err
	}
	params := []byte(platformPostID)
	if raw, ok := c.core.CacheLookup(ctx, account.Platform, "videos.list", params); ok {
		snapshot := &model.MetricsSnapshot{}
		if err := json.Unmarshal(raw, snapshot); err == nil {
			return snapshot, nil
		}
	}
	if err := c.core.Acquire(ctx, account.Platform); err != nil {
		return nil, err
	}
	api, err := c.apiForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	videos, err := api.listVideos(ctx, []string{platformPostID})
	if err != nil {
		return nil, fmt.Errorf("youtube video metrics: %w", err)
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("youtube video not found: %s", platformPostID)
	}

	v := videos[0]
	snapshot := model.ZeroMetrics()
	if v.Statistics != nil {
		snapshot.Views = int64(v.Statistics.ViewCount)
		snapshot.Likes = int64(v.Statistics.LikeCount)
		snapshot.Comments = int64(v.Statistics.CommentCount)
		snapshot.Extras["favorites"] = int64(v.Statistics.FavoriteCount)
	}
	if v.ContentDetails != nil && v.ContentDetails.Duration != "" {
		if seconds, err := ParseISODuration(v.ContentDetails.Duration); err == nil {
			snapshot.Extras["duration_seconds"] = seconds
		} else {
			logger.GetLogger().WithField("duration", v.ContentDetails.Duration).Warn("unparseable video duration")
		}
	}
	if raw, err := json.Marshal(snapshot); err == nil {
		c.core.CacheStore(ctx, account.Platform, "videos.list", params, raw, c.cacheTTL)
	}
	return snapshot, nil
}

// GetAccountAnalytics reports lifetime channel statistics; the Data API has
// no ranged time series, so start/end only participate in the cache key.
func (c *Client) GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error) {
	if err := c.core.EnsureFreshToken(ctx, account, c); err != nil {
		return nil, err
	}
	params := []byte(start.Format(time.RFC3339) + "|" + end.Format(time.RFC3339))
	if raw, ok := c.core.CacheLookup(ctx, account.Platform, "channels.list", params); ok {
		analytics := &model.AccountAnalytics{}
		if err := json.Unmarshal(raw, analytics); err == nil {
			return analytics, nil
		}
	}
	if err := c.core.Acquire(ctx, account.Platform); err != nil {
		return nil, err
	}
	api, err := c.apiForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	channel, err := api.myChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube channel analytics: %w", err)
	}

	analytics := model.ZeroAnalytics()
	if channel.Statistics != nil {
		analytics.Views = int64(channel.Statistics.ViewCount)
		analytics.Followers = int64(channel.Statistics.SubscriberCount)
		analytics.Extras["video_count"] = int64(channel.Statistics.VideoCount)
	}
	if raw, err := json.Marshal(analytics); err == nil {
		c.core.CacheStore(ctx, account.Platform, "channels.list", params, raw, c.cacheTTL)
	}
	return analytics, nil
}

// GetAudienceInsights returns empty structures: the Data API exposes no
// demographic breakdowns.
func (c *Client) GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error) {
	return model.EmptyAudienceInsights(), nil
}

func (c *Client) apiForAccount(ctx context.Context, account *model.Account) (mediaAPI, error) {
	return c.apiForToken(ctx, &oauth2.Token{AccessToken: account.AccessToken, TokenType: "Bearer"})
}

func (c *Client) apiForToken(ctx context.Context, token *oauth2.Token) (mediaAPI, error) {
	return c.newAPI(ctx, c.oauth.Client(ctx, token))
}
