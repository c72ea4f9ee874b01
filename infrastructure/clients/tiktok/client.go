package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/socialcore"
)

const (
	defaultAPIBaseURL  = "https://open.tiktokapis.com/v2"
	defaultAuthBaseURL = "https://www.tiktok.com/v2/auth/authorize/"

	oauthScopes = "user.info.basic,user.info.stats,video.publish,video.upload,video.list"

	// Chunked upload plan declared at init time; the upload URL is delegated
	// and chunks go to it directly with Content-Range headers.
	chunkSize       = 5 << 20
	pollInterval    = 3 * time.Second
	maxPollAttempts = 30

	statusComplete = "PUBLISH_COMPLETE"
	statusFailed   = "FAILED"
)

// Client publishes through the TikTok Content Posting API. Unlike the Meta
// platforms, TikTok issues real refresh tokens and refresh is a functional
// operation.
type Client struct {
	core     *socialcore.Core
	storage  repository.IStorage
	creds    configuration.OAuthClient
	cacheTTL time.Duration

	// Overridable in tests.
	apiURL  string
	authURL string
}

func NewClient(core *socialcore.Core, storage repository.IStorage, creds configuration.OAuthClient, cacheTTL time.Duration) *Client {
	return &Client{
		core:     core,
		storage:  storage,
		creds:    creds,
		cacheTTL: cacheTTL,
		apiURL:   defaultAPIBaseURL,
		authURL:  defaultAuthBaseURL,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformTikTok }

func (c *Client) GetAuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_key", c.creds.ClientID)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	q.Set("scope", oauthScopes)
	q.Set("response_type", "code")
	return fmt.Sprintf("%s?%s", c.authURL, q.Encode())
}

func (c *Client) HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error) {
	form := url.Values{}
	form.Set("client_key", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.creds.RedirectURI)
	token, err := c.tokenCall(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%w: tiktok code exchange: %v", model.ErrAuthExchange, err)
	}

	user, err := c.fetchUserInfo(ctx, token.accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve tiktok identity: %v", model.ErrAuthExchange, err)
	}

	grant := &model.AuthGrant{
		AccessToken:  token.accessToken,
		RefreshToken: token.refreshToken,
		Scopes:       token.scope,
		User:         *user,
	}
	if token.expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.expiresIn) * time.Second)
		grant.ExpiresAt = &expiry
	}
	return grant, nil
}

func (c *Client) RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error) {
	form := url.Values{}
	form.Set("client_key", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	token, err := c.tokenCall(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%w: tiktok token refresh: %v", model.ErrAuthExchange, err)
	}
	refresh := &model.TokenRefresh{
		AccessToken:  token.accessToken,
		RefreshToken: token.refreshToken,
	}
	if token.expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.expiresIn) * time.Second)
		refresh.ExpiresAt = &expiry
	}
	return refresh, nil
}

type tokenResponse struct {
	accessToken  string
	refreshToken string
	expiresIn    int64
	scope        string
	openID       string
}

func (c *Client) tokenCall(ctx context.Context, form url.Values) (*tokenResponse, error) {
	resp, err := c.core.PlainJSON(ctx, http.MethodPost, c.apiURL+"/oauth/token/",
		[]byte(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if err != nil {
		return nil, err
	}
	token := &tokenResponse{
		accessToken:  socialcore.Str(resp, "access_token"),
		refreshToken: socialcore.Str(resp, "refresh_token"),
		expiresIn:    socialcore.IntAt(resp, "expires_in"),
		scope:        socialcore.Str(resp, "scope"),
		openID:       socialcore.Str(resp, "open_id"),
	}
	if token.accessToken == "" {
		return nil, fmt.Errorf("token endpoint returned %q: %s",
			socialcore.Str(resp, "error"), socialcore.Str(resp, "error_description"))
	}
	return token, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (*model.UserInfo, error) {
	resp, err := c.core.PlainJSON(ctx, http.MethodGet,
		c.apiURL+"/user/info/?fields=open_id,union_id,avatar_url,display_name,username",
		nil, map[string]string{"Authorization": "Bearer " + accessToken})
	if err != nil {
		return nil, err
	}
	user := socialcore.Map(socialcore.Map(resp, "data"), "user")
	if user == nil {
		return nil, fmt.Errorf("malformed user info response")
	}
	info := &model.UserInfo{
		PlatformUserID: socialcore.Str(user, "open_id"),
		Username:       socialcore.Str(user, "username"),
		Name:           socialcore.Str(user, "display_name"),
		AvatarURL:      socialcore.Str(user, "avatar_url"),
	}
	if info.Username == "" {
		info.Username = info.PlatformUserID
	}
	return info, nil
}

// PublishVideo drives the Content Posting state machine: declare the chunking
// plan, PUT the chunks sequentially against the delegated upload URL, then
// poll publish status until completion.
func (c *Client) PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error) {
	video, size, err := c.storage.Open(post.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPrecondition, err)
	}
	defer video.Close()

	totalChunks := size / chunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}

	initBody, err := json.Marshal(map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":         buildCaption(post),
			"privacy_level": post.Meta("privacy_level", "PUBLIC_TO_EVERYONE"),
		},
		"source_info": map[string]interface{}{
			"source":            "FILE_UPLOAD",
			"video_size":        size,
			"chunk_size":        chunkSize,
			"total_chunk_count": totalChunks,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode init request: %w", err)
	}
	initResp, err := c.core.Request(ctx, account, c, http.MethodPost,
		c.apiURL+"/post/publish/video/init/", initBody, socialcore.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("tiktok upload init: %w", err)
	}
	data := socialcore.Map(initResp, "data")
	publishID := socialcore.Str(data, "publish_id")
	uploadURL := socialcore.Str(data, "upload_url")
	if publishID == "" || uploadURL == "" {
		return nil, fmt.Errorf("tiktok upload init returned no publish id or upload url")
	}

	if err := c.uploadChunks(ctx, account, uploadURL, video, size, totalChunks); err != nil {
		return nil, err
	}

	postID, err := c.waitForPublish(ctx, account, publishID)
	if err != nil {
		return nil, err
	}

	return &model.PublishResult{
		PlatformPostID: postID,
		CanonicalURL:   fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", account.Username, postID),
	}, nil
}

func (c *Client) uploadChunks(ctx context.Context, account *model.Account, uploadURL string, video io.Reader, size, totalChunks int64) error {
	for chunk := int64(0); chunk < totalChunks; chunk++ {
		start := chunk * chunkSize
		end := start + chunkSize - 1
		// The last chunk absorbs the remainder.
		if chunk == totalChunks-1 {
			end = size - 1
		}
		length := end - start + 1

		if err := c.core.Acquire(ctx, account.Platform); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, io.LimitReader(video, length))
		if err != nil {
			return fmt.Errorf("build chunk request: %w", err)
		}
		req.ContentLength = length
		req.Header.Set("Content-Type", "video/mp4")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))

		resp, err := c.core.HTTPClient().Do(req)
		if err != nil {
			return fmt.Errorf("upload chunk %d/%d: %w", chunk+1, totalChunks, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &model.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
	}
	return nil
}

func (c *Client) waitForPublish(ctx context.Context, account *model.Account, publishID string) (string, error) {
	body, err := json.Marshal(map[string]string{"publish_id": publishID})
	if err != nil {
		return "", fmt.Errorf("encode status request: %w", err)
	}
	for attempt := 1; attempt <= maxPollAttempts; attempt++ {
		if err := c.core.Clock().Sleep(ctx, pollInterval); err != nil {
			return "", err
		}
		resp, err := c.core.Request(ctx, account, c, http.MethodPost,
			c.apiURL+"/post/publish/status/fetch/", body, socialcore.RequestOptions{})
		if err != nil {
			return "", fmt.Errorf("tiktok publish status: %w", err)
		}
		data := socialcore.Map(resp, "data")
		switch socialcore.Str(data, "status") {
		case statusComplete:
			// The API does not return a canonical URL; the post id may arrive
			// in publicaly_available_post_id (sic), else the publish id
			// stands in.
			if ids := socialcore.Slice(data, "publicaly_available_post_id"); len(ids) > 0 {
				if id := socialcore.Int(ids[0]); id != 0 {
					return fmt.Sprintf("%d", id), nil
				}
				if id, ok := ids[0].(string); ok && id != "" {
					return id, nil
				}
			}
			return publishID, nil
		case statusFailed:
			return "", fmt.Errorf("%w: tiktok publish failed: %s", model.ErrProcessing, socialcore.Str(data, "fail_reason"))
		}
	}
	return "", fmt.Errorf("%w: tiktok publish %s", model.ErrProcessingTimeout, publishID)
}

func buildCaption(post *model.Post) string {
	caption := post.Title
	if caption == "" {
		caption = post.Description
	}
	for _, tag := range post.Hashtags {
		if caption != "" {
			caption += " "
		}
		caption += "#" + tag
	}
	return caption
}

// GetPostMetrics queries the video stats and degrades to an all-zero
// snapshot on any failure: TikTok analytics access is unreliable without
// Research API approval, and metrics are non-critical.
func (c *Client) GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error) {
	body, err := json.Marshal(map[string]interface{}{
		"filters": map[string]interface{}{"video_ids": []string{platformPostID}},
	})
	if err != nil {
		return model.ZeroMetrics(), nil
	}
	resp, err := c.core.Request(ctx, account, c, http.MethodPost,
		c.apiURL+"/video/query/?fields=id,like_count,comment_count,share_count,view_count", body,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("post_id", platformPostID).
			Warn("tiktok metrics unavailable, returning zeros")
		return model.ZeroMetrics(), nil
	}

	snapshot := model.ZeroMetrics()
	videos := socialcore.Slice(socialcore.Map(resp, "data"), "videos")
	if len(videos) > 0 {
		if video, ok := videos[0].(map[string]interface{}); ok {
			snapshot.Views = socialcore.IntAt(video, "view_count")
			snapshot.Likes = socialcore.IntAt(video, "like_count")
			snapshot.Comments = socialcore.IntAt(video, "comment_count")
			snapshot.Shares = socialcore.IntAt(video, "share_count")
		}
	}
	return snapshot, nil
}

// GetAccountAnalytics reads profile stats, degrading to zeros on any failure.
func (c *Client) GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error) {
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		c.apiURL+"/user/info/?fields=follower_count,following_count,likes_count,video_count", nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("account_id", account.ID).
			Warn("tiktok analytics unavailable, returning zeros")
		return model.ZeroAnalytics(), nil
	}

	analytics := model.ZeroAnalytics()
	user := socialcore.Map(socialcore.Map(resp, "data"), "user")
	if user != nil {
		analytics.Followers = socialcore.IntAt(user, "follower_count")
		analytics.Engagement = socialcore.IntAt(user, "likes_count")
		analytics.Extras["video_count"] = socialcore.IntAt(user, "video_count")
		analytics.Extras["following_count"] = socialcore.IntAt(user, "following_count")
	}
	return analytics, nil
}

// GetAudienceInsights always returns empty structures: TikTok exposes no
// demographic breakdowns on this API surface.
func (c *Client) GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error) {
	return model.EmptyAudienceInsights(), nil
}
