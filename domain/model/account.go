package model

import "time"

// Platform identifies a supported social network.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformThreads   Platform = "threads"
)

// Platforms lists every supported platform in registration order.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformFacebook, PlatformInstagram, PlatformTikTok, PlatformThreads}
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformFacebook, PlatformInstagram, PlatformTikTok, PlatformThreads:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusExpired AccountStatus = "expired"
	AccountStatusError   AccountStatus = "error"
)

// Account is one connected identity on one platform together with its token
// state. TokenExpiresAt == nil means the token does not expire (page tokens);
// such accounts never go through a refresh. Status flips to expired only as a
// result of a failed refresh attempt.
type Account struct {
	ID             int64             `json:"id"`
	Platform       Platform          `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	Username       string            `json:"username"`
	DisplayName    string            `json:"display_name"`
	AvatarURL      string            `json:"avatar_url"`
	AccessToken    string            `json:"-"`
	RefreshToken   string            `json:"-"`
	TokenExpiresAt *time.Time        `json:"token_expires_at,omitempty"`
	Status         AccountStatus     `json:"status"`
	Scopes         string            `json:"scopes"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// UserInfo is the platform identity resolved during an OAuth callback.
type UserInfo struct {
	PlatformUserID string            `json:"platform_user_id"`
	Username       string            `json:"username"`
	Name           string            `json:"name"`
	AvatarURL      string            `json:"avatar_url"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuthGrant is the outcome of exchanging an OAuth authorization code.
// RefreshToken may be empty (page-token platforms) and ExpiresAt nil for
// tokens that never expire.
type AuthGrant struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scopes       string     `json:"scopes"`
	User         UserInfo   `json:"user"`
}

// TokenRefresh is the updated token triple returned by a refresh. An empty
// RefreshToken means the platform rotated nothing and the stored value keeps
// being used.
type TokenRefresh struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
