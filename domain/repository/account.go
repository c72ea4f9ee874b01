package repository

import (
	"context"

	"social-publisher/domain/model"
)

// IAccount persists connected accounts. UpdateAccount is the synchronous
// persistence callback the token manager calls before proceeding; a persist
// failure is fatal for the enclosing call.
type IAccount interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByPlatformUser(ctx context.Context, platform model.Platform, platformUserID string) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	// Upsert inserts or updates on (platform, platform_user_id) and fills the id.
	Upsert(ctx context.Context, account *model.Account) error
	// UpdateAccount applies a partial field update; keys are column names
	// (access_token, refresh_token, token_expires_at, status).
	UpdateAccount(ctx context.Context, id int64, fields map[string]interface{}) error
}
