package threads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/socialcore"
)

const (
	defaultAPIBaseURL  = "https://graph.threads.net/v1.0"
	defaultAuthBaseURL = "https://threads.net/oauth/authorize"
	// Token endpoints live outside the versioned prefix.
	defaultTokenBaseURL = "https://graph.threads.net"

	oauthScopes = "threads_basic,threads_content_publish,threads_manage_insights"

	textLimit       = 500
	pollInterval    = 2 * time.Second
	maxPollAttempts = 30

	statusFinished = "FINISHED"
	statusError    = "ERROR"
)

// Client publishes to Threads. Containers work like Instagram's, but the code
// exchange has an extra step: the short-lived token is upgraded to a
// long-lived one (th_exchange_token) before the identity is fetched, and
// refresh is a real operation (th_refresh_token).
type Client struct {
	core          *socialcore.Core
	creds         configuration.OAuthClient
	cacheTTL      time.Duration
	publicBaseURL string

	// Overridable in tests.
	apiURL   string
	authURL  string
	tokenURL string
}

func NewClient(core *socialcore.Core, creds configuration.OAuthClient, cacheTTL time.Duration, publicBaseURL string) *Client {
	return &Client{
		core:          core,
		creds:         creds,
		cacheTTL:      cacheTTL,
		publicBaseURL: publicBaseURL,
		apiURL:        defaultAPIBaseURL,
		authURL:       defaultAuthBaseURL,
		tokenURL:      defaultTokenBaseURL,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformThreads }

func (c *Client) GetAuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	q.Set("scope", oauthScopes)
	q.Set("response_type", "code")
	return fmt.Sprintf("%s?%s", c.authURL, q.Encode())
}

func (c *Client) HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error) {
	form := url.Values{}
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.creds.RedirectURI)
	shortResp, err := c.core.PlainJSON(ctx, http.MethodPost, c.tokenURL+"/oauth/access_token",
		[]byte(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if err != nil {
		return nil, fmt.Errorf("%w: threads code exchange: %v", model.ErrAuthExchange, err)
	}
	shortToken := socialcore.Str(shortResp, "access_token")
	if shortToken == "" {
		return nil, fmt.Errorf("%w: threads code exchange returned no token", model.ErrAuthExchange)
	}

	// Upgrade to a long-lived token before doing anything else with it.
	q := url.Values{}
	q.Set("grant_type", "th_exchange_token")
	q.Set("client_secret", c.creds.ClientSecret)
	q.Set("access_token", shortToken)
	longResp, err := c.core.PlainJSON(ctx, http.MethodGet,
		fmt.Sprintf("%s/access_token?%s", c.tokenURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: threads long-lived exchange: %v", model.ErrAuthExchange, err)
	}
	longToken := socialcore.Str(longResp, "access_token")
	if longToken == "" {
		return nil, fmt.Errorf("%w: threads long-lived exchange returned no token", model.ErrAuthExchange)
	}

	profile, err := c.core.PlainJSON(ctx, http.MethodGet,
		c.apiURL+"/me?fields=id,username,name,threads_profile_picture_url", nil,
		map[string]string{"Authorization": "Bearer " + longToken})
	if err != nil {
		return nil, fmt.Errorf("%w: resolve threads identity: %v", model.ErrAuthExchange, err)
	}

	grant := &model.AuthGrant{
		AccessToken: longToken,
		Scopes:      oauthScopes,
		User: model.UserInfo{
			PlatformUserID: socialcore.Str(profile, "id"),
			Username:       socialcore.Str(profile, "username"),
			Name:           socialcore.Str(profile, "name"),
			AvatarURL:      socialcore.Str(profile, "threads_profile_picture_url"),
		},
	}
	if grant.User.Username == "" {
		grant.User.Username = grant.User.PlatformUserID
	}
	if expiresIn := socialcore.IntAt(longResp, "expires_in"); expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
		grant.ExpiresAt = &expiry
	}
	return grant, nil
}

// RefreshAccessToken rolls the long-lived token forward. Threads has no
// separate refresh token; the current access token authorizes its own
// refresh.
func (c *Client) RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error) {
	q := url.Values{}
	q.Set("grant_type", "th_refresh_token")
	q.Set("access_token", account.AccessToken)
	resp, err := c.core.PlainJSON(ctx, http.MethodGet,
		fmt.Sprintf("%s/refresh_access_token?%s", c.tokenURL, q.Encode()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: threads token refresh: %v", model.ErrAuthExchange, err)
	}
	token := socialcore.Str(resp, "access_token")
	if token == "" {
		return nil, fmt.Errorf("%w: threads token refresh returned no token", model.ErrAuthExchange)
	}
	refresh := &model.TokenRefresh{AccessToken: token}
	if expiresIn := socialcore.IntAt(resp, "expires_in"); expiresIn > 0 {
		expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
		refresh.ExpiresAt = &expiry
	}
	return refresh, nil
}

// PublishVideo runs the container flow: create a VIDEO container from a
// public URL, poll until processed, publish, fetch the permalink.
func (c *Client) PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error) {
	videoURL, err := c.publicVideoURL(post)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("media_type", "VIDEO")
	q.Set("video_url", videoURL)
	q.Set("text", buildText(post))
	if imageURL := post.Meta("image_url", ""); imageURL != "" {
		q.Set("image_url", imageURL)
	}
	createResp, err := c.core.Request(ctx, account, c, http.MethodPost,
		fmt.Sprintf("%s/%s/threads?%s", c.apiURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("threads create container: %w", err)
	}
	containerID := socialcore.Str(createResp, "id")
	if containerID == "" {
		return nil, fmt.Errorf("threads container creation returned no id")
	}

	if err := c.waitForContainer(ctx, account, containerID); err != nil {
		return nil, err
	}

	q = url.Values{}
	q.Set("creation_id", containerID)
	publishResp, err := c.core.Request(ctx, account, c, http.MethodPost,
		fmt.Sprintf("%s/%s/threads_publish?%s", c.apiURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("threads publish container: %w", err)
	}
	postID := socialcore.Str(publishResp, "id")
	if postID == "" {
		return nil, fmt.Errorf("threads publish returned no post id")
	}

	result := &model.PublishResult{PlatformPostID: postID}
	permResp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=permalink", c.apiURL, postID), nil,
		socialcore.RequestOptions{})
	if err == nil {
		result.CanonicalURL = socialcore.Str(permResp, "permalink")
	}
	if result.CanonicalURL == "" {
		result.CanonicalURL = fmt.Sprintf("https://www.threads.net/@%s/post/%s", account.Username, postID)
	}
	return result, nil
}

func (c *Client) waitForContainer(ctx context.Context, account *model.Account, containerID string) error {
	for attempt := 1; attempt <= maxPollAttempts; attempt++ {
		if err := c.core.Clock().Sleep(ctx, pollInterval); err != nil {
			return err
		}
		resp, err := c.core.Request(ctx, account, c, http.MethodGet,
			fmt.Sprintf("%s/%s?fields=status,error_message", c.apiURL, containerID), nil,
			socialcore.RequestOptions{})
		if err != nil {
			return fmt.Errorf("threads container status: %w", err)
		}
		switch socialcore.Str(resp, "status") {
		case statusFinished:
			return nil
		case statusError:
			return fmt.Errorf("%w: threads rejected the video: %s", model.ErrProcessing, socialcore.Str(resp, "error_message"))
		}
	}
	return fmt.Errorf("%w: threads container %s", model.ErrProcessingTimeout, containerID)
}

func (c *Client) publicVideoURL(post *model.Post) (string, error) {
	if u := post.Meta("video_url", ""); u != "" {
		return u, nil
	}
	if c.publicBaseURL != "" && post.VideoPath != "" {
		return strings.TrimSuffix(c.publicBaseURL, "/") + "/" + strings.TrimPrefix(post.VideoPath, "/"), nil
	}
	return "", fmt.Errorf("%w: threads requires a publicly reachable video URL", model.ErrPrecondition)
}

func buildText(post *model.Post) string {
	text := post.Title
	if post.Description != "" {
		if text != "" {
			text += "\n\n"
		}
		text += post.Description
	}
	for _, tag := range post.Hashtags {
		if text != "" {
			text += " "
		}
		text += "#" + tag
	}
	runes := []rune(text)
	if len(runes) > textLimit {
		return string(runes[:textLimit])
	}
	return text
}

// GetPostMetrics reads media insights, degrading to zeros on any failure:
// insights need a scope many apps lack, and metrics are non-critical.
func (c *Client) GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error) {
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?metric=views,likes,replies,reposts,quotes,shares", c.apiURL, platformPostID), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("post_id", platformPostID).
			Warn("threads metrics unavailable, returning zeros")
		return model.ZeroMetrics(), nil
	}

	snapshot := model.ZeroMetrics()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		value := metricValue(metric)
		switch socialcore.Str(metric, "name") {
		case "views":
			snapshot.Views = value
		case "likes":
			snapshot.Likes = value
		case "replies":
			snapshot.Comments = value
		case "reposts":
			snapshot.Shares = value
		case "quotes":
			snapshot.Extras["quotes"] = value
		case "shares":
			snapshot.Extras["shares"] = value
		}
	}
	return snapshot, nil
}

// GetAccountAnalytics reads profile insights, degrading to zeros on any
// failure. followers_count is a level and is never summed.
func (c *Client) GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error) {
	q := url.Values{}
	q.Set("metric", "views,likes,replies,reposts,quotes,followers_count")
	q.Set("since", fmt.Sprintf("%d", start.Unix()))
	q.Set("until", fmt.Sprintf("%d", end.Unix()))
	resp, err := c.core.Request(ctx, account, c, http.MethodGet,
		fmt.Sprintf("%s/%s/threads_insights?%s", c.apiURL, account.PlatformUserID, q.Encode()), nil,
		socialcore.RequestOptions{UseCache: true, CacheTTL: c.cacheTTL})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("account_id", account.ID).
			Warn("threads analytics unavailable, returning zeros")
		return model.ZeroAnalytics(), nil
	}

	analytics := model.ZeroAnalytics()
	for _, entry := range socialcore.Slice(resp, "data") {
		metric, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		switch socialcore.Str(metric, "name") {
		case "views":
			analytics.Views = seriesTotal(metric)
		case "likes":
			analytics.Engagement += seriesTotal(metric)
		case "replies":
			analytics.Extras["replies"] = seriesTotal(metric)
		case "reposts":
			analytics.Extras["reposts"] = seriesTotal(metric)
		case "quotes":
			analytics.Extras["quotes"] = seriesTotal(metric)
		case "followers_count":
			analytics.Followers = metricValue(metric)
		}
	}
	return analytics, nil
}

// GetAudienceInsights always returns empty structures: Threads exposes no
// demographic breakdowns on this API surface.
func (c *Client) GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error) {
	return model.EmptyAudienceInsights(), nil
}

// metricValue reads a total_value-style metric, falling back to the last
// series point.
func metricValue(metric map[string]interface{}) int64 {
	if total := socialcore.Map(metric, "total_value"); total != nil {
		return socialcore.IntAt(total, "value")
	}
	values := socialcore.Slice(metric, "values")
	if len(values) == 0 {
		return 0
	}
	point, ok := values[len(values)-1].(map[string]interface{})
	if !ok {
		return 0
	}
	return socialcore.IntAt(point, "value")
}

func seriesTotal(metric map[string]interface{}) int64 {
	if total := socialcore.Map(metric, "total_value"); total != nil {
		return socialcore.IntAt(total, "value")
	}
	var sum int64
	for _, v := range socialcore.Slice(metric, "values") {
		if point, ok := v.(map[string]interface{}); ok {
			sum += socialcore.IntAt(point, "value")
		}
	}
	return sum
}
