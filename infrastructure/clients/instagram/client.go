package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/clients/facebook"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/socialcore"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com/v19.0"
	defaultAuthBaseURL  = "https://www.facebook.com/v19.0"

	oauthScopes = "instagram_basic,instagram_content_publish,instagram_manage_insights,pages_show_list,pages_read_engagement"

	// Reels containers are processed asynchronously; publishing waits on the
	// container status.
	captionLimit     = 2200
	pollInterval     = 2 * time.Second
	maxPollAttempts  = 30
	mediaTypeReels   = "REELS"
	statusFinished   = "FINISHED"
	statusError      = "ERROR"
)

// Client publishes Reels to an Instagram Business Account through the Graph
// API. Authentication rides on Facebook Pages: the callback walks the user's
// pages and adopts the first one with a linked business account, keeping that
// page's non-expiring access token.
type Client struct {
	core          *socialcore.Core
	creds         configuration.OAuthClient
	cacheTTL      time.Duration
	publicBaseURL string

	// Overridable in tests.
	graphURL string
	authURL  string
}

func NewClient(core *socialcore.Core, creds configuration.OAuthClient, cacheTTL time.Duration, publicBaseURL string) *Client {
	return &Client{
		core:          core,
		creds:         creds,
		cacheTTL:      cacheTTL,
		publicBaseURL: publicBaseURL,
		graphURL:      defaultGraphBaseURL,
		authURL:       defaultAuthBaseURL,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformInstagram }

func (c *Client) GetAuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	q.Set("scope", oauthScopes)
	q.Set("response_type", "code")
	return fmt.Sprintf("%s/dialog/oauth?%s", c.authURL, q.Encode())
}

// HandleCallback exchanges the code, upgrades to a long-lived user token and
// picks the first page with a linked Instagram Business Account. No linked
// account anywhere is fatal.
func (c *Client) HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error) {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("client_secret", c.creds.ClientSecret)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("code", code)
	shortResp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/oauth/access_token?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: instagram code exchange: %v", model.ErrAuthExchange, err)
	}
	shortToken := socialcore.Str(shortResp, "access_token")
	if shortToken == "" {
		return nil, fmt.Errorf("%w: instagram code exchange returned no token", model.ErrAuthExchange)
	}

	q = url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.creds.ClientID)
	q.Set("client_secret", c.creds.ClientSecret)
	q.Set("fb_exchange_token", shortToken)
	longResp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/oauth/access_token?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: instagram long-lived exchange: %v", model.ErrAuthExchange, err)
	}
	userToken := socialcore.Str(longResp, "access_token")
	if userToken == "" {
		return nil, fmt.Errorf("%w: instagram long-lived exchange returned no token", model.ErrAuthExchange)
	}

	q = url.Values{}
	q.Set("fields", "id,name,access_token,instagram_business_account{id,username,name,profile_picture_url}")
	q.Set("access_token", userToken)
	pagesResp, err := c.core.PlainJSON(ctx, http.MethodGet, fmt.Sprintf("%s/me/accounts?%s", c.graphURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list facebook pages: %v", model.ErrAuthExchange, err)
	}
	for _, entry := range socialcore.Slice(pagesResp, "data") {
		page, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		igAccount := socialcore.Map(page, "instagram_business_account")
		if igAccount == nil {
			continue
		}
		igUserID := socialcore.Str(igAccount, "id")
		username := socialcore.Str(igAccount, "username")
		if username == "" {
			username = igUserID
		}
		return &model.AuthGrant{
			AccessToken: socialcore.Str(page, "access_token"),
			Scopes:      oauthScopes,
			User: model.UserInfo{
				PlatformUserID: igUserID,
				Username:       username,
				Name:           socialcore.Str(igAccount, "name"),
				AvatarURL:      socialcore.Str(igAccount, "profile_picture_url"),
				Metadata: map[string]string{
					"page_id": socialcore.Str(page, "id"),
				},
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: no facebook page with a linked instagram business account", model.ErrPrecondition)
}

// RefreshAccessToken always fails: the stored page token does not expire.
func (c *Client) RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error) {
	return nil, fmt.Errorf("%w: instagram page tokens cannot be refreshed, reconnect the account", model.ErrUnsupportedOperation)
}

// PublishVideo runs the two-phase Reels flow: create a container from a
// public video URL, poll until processing finishes, publish the container and
// fetch its permalink. Instagram only ingests by URL, never by direct upload.
func (c *Client) PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error) {
	videoURL, err := c.publicVideoURL(post)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("media_type", mediaTypeReels)
	q.Set("video_url", videoURL)
	q.Set("caption", buildCaption(post))
	createResp, err := c.core.Request(ctx, account, c, http.MethodPost,
		fmt.Sprintf("%s/%s/media?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("instagram create container: %w", err)
	}
	containerID := socialcore.Str(createResp, "id")
	if containerID == "" {
		return nil, fmt.Errorf("instagram container creation returned no id")
	}

	if err := c.waitForContainer(ctx, account, containerID); err != nil {
		return nil, err
	}

	q = url.Values{}
	q.Set("creation_id", containerID)
	publishResp, err := c.core.Request(ctx, account, c, http.MethodPost,
		fmt.Sprintf("%s/%s/media_publish?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("instagram publish container: %w", err)
	}
	mediaID := socialcore.Str(publishResp, "id")
	if mediaID == "" {
		return nil, fmt.Errorf("instagram publish returned no media id")
	}

	result := &model.PublishResult{PlatformPostID: mediaID}
	permResp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=permalink", c.graphURL, mediaID), nil,
		socialcore.RequestOptions{})
	if err == nil {
		result.CanonicalURL = socialcore.Str(permResp, "permalink")
	}
	if result.CanonicalURL == "" {
		result.CanonicalURL = fmt.Sprintf("https://www.instagram.com/reel/%s/", mediaID)
	}
	return result, nil
}

func (c *Client) waitForContainer(ctx context.Context, account *model.Account, containerID string) error {
	for attempt := 1; attempt <= maxPollAttempts; attempt++ {
		if err := c.core.Clock().Sleep(ctx, pollInterval); err != nil {
			return err
		}
		resp, err := c.core.Request(ctx, account, c, http.MethodGet,
			fmt.Sprintf("%s/%s?fields=status_code", c.graphURL, containerID), nil,
			socialcore.RequestOptions{})
		if err != nil {
			return fmt.Errorf("instagram container status: %w", err)
		}
		switch socialcore.Str(resp, "status_code") {
		case statusFinished:
			return nil
		case statusError:
			return fmt.Errorf("%w: instagram rejected the video", model.ErrProcessing)
		}
	}
	return fmt.Errorf("%w: instagram container %s", model.ErrProcessingTimeout, containerID)
}

func (c *Client) publicVideoURL(post *model.Post) (string, error) {
	if u := post.Meta("video_url", ""); u != "" {
		return u, nil
	}
	if c.publicBaseURL != "" && post.VideoPath != "" {
		return strings.TrimSuffix(c.publicBaseURL, "/") + "/" + strings.TrimPrefix(post.VideoPath, "/"), nil
	}
	return "", fmt.Errorf("%w: instagram requires a publicly reachable video URL", model.ErrPrecondition)
}

func buildCaption(post *model.Post) string {
	caption := post.Description
	for _, tag := range post.Hashtags {
		if caption != "" {
			caption += " "
		}
		caption += "#" + tag
	}
	runes := []rune(caption)
	if len(runes) > captionLimit {
		return string(runes[:captionLimit])
	}
	return caption
}

// GetPostMetrics merges the media insights series with the media object's
// count fields.
func (c *Client) GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error) {
	opts := socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL}

	q := url.Values{}
	q.Set("metric", "plays,reach,shares,saved,total_interactions")
	insights, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.graphURL, platformPostID, q.Encode()), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("instagram media insights: %w", err)
	}

	counts, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=like_count,comments_count", c.graphURL, platformPostID), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("instagram media counts: %w", err)
	}

	snapshot := model.ZeroMetrics()
	for _, entry := range socialcore.Slice(insights, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		value := facebook.LifetimeValue(metric)
		switch socialcore.Str(metric, "name") {
		case "plays":
			snapshot.Views = value
		case "reach":
			snapshot.Reach = value
		case "shares":
			snapshot.Shares = value
		case "saved":
			snapshot.Saves = value
		case "total_interactions":
			snapshot.Extras["total_interactions"] = value
		}
	}
	snapshot.Likes = socialcore.IntAt(counts, "like_count")
	snapshot.Comments = socialcore.IntAt(counts, "comments_count")
	return snapshot, nil
}

// GetAccountAnalytics sums daily series; follower_count is a level and takes
// the latest value.
func (c *Client) GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error) {
	q := url.Values{}
	q.Set("metric", "impressions,reach,profile_views,follower_count")
	q.Set("period", "day")
	q.Set("since", fmt.Sprintf("%d", start.Unix()))
	q.Set("until", fmt.Sprintf("%d", end.Unix()))
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		return nil, fmt.Errorf("instagram account insights: %w", err)
	}

	analytics := model.ZeroAnalytics()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		switch socialcore.Str(metric, "name") {
		case "impressions":
			analytics.Impressions = facebook.SumSeries(metric)
		case "reach":
			analytics.Reach = facebook.SumSeries(metric)
		case "profile_views":
			analytics.Views = facebook.SumSeries(metric)
		case "follower_count":
			analytics.Followers = facebook.LatestSeries(metric)
		}
	}
	return analytics, nil
}

// GetAudienceInsights returns lifetime follower demographics.
func (c *Client) GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error) {
	q := url.Values{}
	q.Set("metric", "audience_country,audience_city,audience_gender_age")
	q.Set("period", "lifetime")
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.graphURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		return nil, fmt.Errorf("instagram audience insights: %w", err)
	}

	insights := model.EmptyAudienceInsights()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		breakdown := facebook.LatestBreakdown(metric)
		switch socialcore.Str(metric, "name") {
		case "audience_country":
			insights.Countries = breakdown
		case "audience_city":
			insights.Cities = breakdown
		case "audience_gender_age":
			insights.AgeGender = breakdown
		}
	}
	return insights, nil
}
