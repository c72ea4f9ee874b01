package facebook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/socialcore"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com/v19.0"
	defaultAuthBaseURL  = "https://www.facebook.com/v19.0"

	oauthScopes = "pages_show_list,pages_read_engagement,pages_manage_posts,read_insights"
)

// Client publishes to a Facebook Page through the Graph API. The connected
// identity is always a Page: the callback exchanges the user token and then
// adopts the first Page's access token, which does not expire.
type Client struct {
	core     *socialcore.Core
	storage  repository.IStorage
	creds    configuration.OAuthClient
	cacheTTL time.Duration

	// Overridable in tests.
	graphURL string
	authURL  string
}

func NewClient(core *socialcore.Core, storage repository.IStorage, creds configuration.OAuthClient, cacheTTL time.Duration) *Client {
	return &Client{
		core:     core,
		storage:  storage,
		creds:    creds,
		cacheTTL: cacheTTL,
		graphURL: defaultGraphBaseURL,
		authURL:  defaultAuthBaseURL,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformFacebook }

func (c *Client) GetAuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	q.Set("scope", oauthScopes)
	q.Set("response_type", "code")
	return fmt.Sprintf("%s/dialog/oauth?%s", c.authURL, q.Encode())
}

// HandleCallback exchanges the code for a short-lived user token, upgrades it
// to a long-lived one, then adopts the first Page the user manages. Zero
// pages is fatal; there is no multi-page chooser.
func (c *Client) HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error) {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("client_secret", c.creds.ClientSecret)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("code", code)
	shortResp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/oauth/access_token?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook code exchange: %v", model.ErrAuthExchange, err)
	}
	shortToken := socialcore.Str(shortResp, "access_token")
	if shortToken == "" {
		return nil, fmt.Errorf("%w: facebook code exchange returned no token", model.ErrAuthExchange)
	}

	q = url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.creds.ClientID)
	q.Set("client_secret", c.creds.ClientSecret)
	q.Set("fb_exchange_token", shortToken)
	longResp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/oauth/access_token?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook long-lived exchange: %v", model.ErrAuthExchange, err)
	}
	userToken := socialcore.Str(longResp, "access_token")
	if userToken == "" {
		return nil, fmt.Errorf("%w: facebook long-lived exchange returned no token", model.ErrAuthExchange)
	}

	page, err := c.firstPage(ctx, userToken)
	if err != nil {
		return nil, err
	}
	pageID := socialcore.Str(page, "id")
	grant := &model.AuthGrant{
		AccessToken: socialcore.Str(page, "access_token"),
		Scopes:      oauthScopes,
		User: model.UserInfo{
			PlatformUserID: pageID,
			Username:       socialcore.Str(page, "username"),
			Name:           socialcore.Str(page, "name"),
			Metadata:       map[string]string{"page_id": pageID},
		},
	}
	if grant.User.Username == "" {
		grant.User.Username = pageID
	}
	if picture := socialcore.Map(socialcore.Map(page, "picture"), "data"); picture != nil {
		grant.User.AvatarURL = socialcore.Str(picture, "url")
	}
	return grant, nil
}

func (c *Client) firstPage(ctx context.Context, userToken string) (map[string]interface{}, error) {
	q := url.Values{}
	q.Set("fields", "id,name,username,access_token,picture")
	q.Set("access_token", userToken)
	resp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/me/accounts?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list facebook pages: %v", model.ErrAuthExchange, err)
	}
	pages := socialcore.Slice(resp, "data")
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no facebook pages on this account", model.ErrPrecondition)
	}
	page, ok := pages[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: malformed facebook pages response", model.ErrAuthExchange)
	}
	return page, nil
}

// RefreshAccessToken always fails: page tokens do not expire and the only
// recovery from a revoked one is reconnecting the account.
func (c *Client) RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error) {
	return nil, fmt.Errorf("%w: facebook page tokens cannot be refreshed, reconnect the account", model.ErrUnsupportedOperation)
}

// PublishVideo is a single multipart upload to /{page_id}/videos.
func (c *Client) PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error) {
	if err := c.core.EnsureFreshToken(ctx, account, c); err != nil {
		return nil, err
	}
	if err := c.core.Acquire(ctx, account.Platform); err != nil {
		return nil, err
	}

	video, _, err := c.storage.Open(post.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPrecondition, err)
	}
	defer video.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("title", post.Title); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.WriteField("description", descriptionWithHashtags(post)); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	part, err := form.CreateFormFile("source", "video.mp4")
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, video); err != nil {
		return nil, fmt.Errorf("read video stream: %w", err)
	}
	if post.ThumbnailPath != "" {
		if thumb, _, err := c.storage.Open(post.ThumbnailPath); err == nil {
			part, err := form.CreateFormFile("thumb", "thumb.jpg")
			if err == nil {
				_, err = io.Copy(part, thumb)
			}
			thumb.Close()
			if err != nil {
				return nil, fmt.Errorf("read thumbnail stream: %w", err)
			}
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/videos", c.graphURL, account.PlatformUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := c.core.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook video upload: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	parsed, err := socialcore.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	videoID := socialcore.Str(parsed, "id")
	if videoID == "" {
		return nil, fmt.Errorf("facebook upload returned no video id")
	}
	return &model.PublishResult{
		PlatformPostID: videoID,
		CanonicalURL:   fmt.Sprintf("https://www.facebook.com/%s/videos/%s", account.PlatformUserID, videoID),
	}, nil
}

// GetPostMetrics merges the video-insights series with the post's engagement
// fields. Transport failures propagate; only genuinely absent fields zero.
func (c *Client) GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error) {
	opts := socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL}

	q := url.Values{}
	q.Set("metric", "total_video_views,total_video_impressions")
	q.Set("period", "lifetime")
	insights, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/video_insights?%s", c.graphURL, platformPostID, q.Encode()), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("facebook video insights: %w", err)
	}

	q = url.Values{}
	q.Set("fields", "likes.summary(true),comments.summary(true),shares")
	engagement, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s?%s", c.graphURL, platformPostID, q.Encode()), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("facebook post engagement: %w", err)
	}

	snapshot := model.ZeroMetrics()
	for _, entry := range socialcore.Slice(insights, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		value := LifetimeValue(metric)
		switch socialcore.Str(metric, "name") {
		case "total_video_views":
			snapshot.Views = value
		case "total_video_impressions":
			snapshot.Impressions = value
		}
	}
	if summary := socialcore.Map(socialcore.Map(engagement, "likes"), "summary"); summary != nil {
		snapshot.Likes = socialcore.IntAt(summary, "total_count")
	}
	if summary := socialcore.Map(socialcore.Map(engagement, "comments"), "summary"); summary != nil {
		snapshot.Comments = socialcore.IntAt(summary, "total_count")
	}
	if shares := socialcore.Map(engagement, "shares"); shares != nil {
		snapshot.Shares = socialcore.IntAt(shares, "count")
	}
	return snapshot, nil
}

// GetAccountAnalytics sums the daily series for volume metrics; the follower
// count takes the latest value in the series, never a sum.
func (c *Client) GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error) {
	q := url.Values{}
	q.Set("metric", "page_views_total,page_impressions,page_impressions_unique,page_post_engagements,page_fans")
	q.Set("period", "day")
	q.Set("since", fmt.Sprintf("%d", start.Unix()))
	q.Set("until", fmt.Sprintf("%d", end.Unix()))
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		return nil, fmt.Errorf("facebook page insights: %w", err)
	}

	analytics := model.ZeroAnalytics()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		switch socialcore.Str(metric, "name") {
		case "page_views_total":
			analytics.Views = SumSeries(metric)
		case "page_impressions":
			analytics.Impressions = SumSeries(metric)
		case "page_impressions_unique":
			analytics.Reach = SumSeries(metric)
		case "page_post_engagements":
			analytics.Engagement = SumSeries(metric)
		case "page_fans":
			analytics.Followers = LatestSeries(metric)
		}
	}
	return analytics, nil
}

// GetAudienceInsights returns the page's lifetime follower demographics.
func (c *Client) GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error) {
	q := url.Values{}
	q.Set("metric", "page_fans_country,page_fans_city,page_fans_gender_age")
	q.Set("period", "lifetime")
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		return nil, fmt.Errorf("facebook audience insights: %w", err)
	}

	insights := model.EmptyAudienceInsights()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		breakdown := LatestBreakdown(metric)
		switch socialcore.Str(metric, "name") {
		case "page_fans_country":
			insights.Countries = breakdown
		case "page_fans_city":
			insights.Cities = breakdown
		case "page_fans_gender_age":
			insights.AgeGender = breakdown
		}
	}
	return insights, nil
}

func descriptionWithHashtags(post *model.Post) string {
	desc := post.Description
	for _, tag := range post.Hashtags {
		if desc != "" {
			desc += " "
		}
		desc += "#" + tag
	}
	return desc
}

