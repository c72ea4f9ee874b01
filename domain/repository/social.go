package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// ISocialMedia is the five-operation publishing contract every platform
// adapter implements. PublishVideo is always fatal on failure; metrics and
// analytics operations degrade per-platform (TikTok/Threads return all-zero
// snapshots instead of errors).
type ISocialMedia interface {
	Platform() model.Platform

	// GetAuthorizationURL builds the platform OAuth URL carrying the CSRF state.
	GetAuthorizationURL(state string) string

	// HandleCallback exchanges the authorization code and resolves the identity
	// the account will operate as (page selection, business-account discovery).
	HandleCallback(ctx context.Context, code string) (*model.AuthGrant, error)

	// RefreshAccessToken returns an updated token triple. Platforms whose
	// tokens never expire return model.ErrUnsupportedOperation with a message
	// instructing the caller to reconnect the account.
	RefreshAccessToken(ctx context.Context, account *model.Account) (*model.TokenRefresh, error)

	PublishVideo(ctx context.Context, account *model.Account, post *model.Post) (*model.PublishResult, error)

	GetPostMetrics(ctx context.Context, account *model.Account, platformPostID string) (*model.MetricsSnapshot, error)
	GetAccountAnalytics(ctx context.Context, account *model.Account, start, end time.Time) (*model.AccountAnalytics, error)
	GetAudienceInsights(ctx context.Context, account *model.Account) (*model.AudienceInsights, error)
}
