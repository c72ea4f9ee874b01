package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

// PublishOutcome is one account's result in a fan-out publish.
type PublishOutcome struct {
	AccountID int64                `json:"account_id"`
	Platform  model.Platform       `json:"platform"`
	Result    *model.PublishResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type IPublisher interface {
	GetAuthorizationURL(platform model.Platform, state string) (string, error)
	HandleCallback(ctx context.Context, platform model.Platform, code string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	PublishVideo(ctx context.Context, accountID int64, post *model.Post) (*model.PublishResult, error)
	PublishToMany(ctx context.Context, accountIDs []int64, post *model.Post) []PublishOutcome
	GetPostMetrics(ctx context.Context, accountID int64, platformPostID string) (*model.MetricsSnapshot, error)
	GetAccountAnalytics(ctx context.Context, accountID int64, start, end time.Time) (*model.AccountAnalytics, error)
	GetAudienceInsights(ctx context.Context, accountID int64) (*model.AudienceInsights, error)
}

type publisher struct {
	adapters map[model.Platform]repository.ISocialMedia
	accounts repository.IAccount
	storage  repository.IStorage
}

func NewPublisher(accounts repository.IAccount, storage repository.IStorage, adapters ...repository.ISocialMedia) IPublisher {
	m := make(map[model.Platform]repository.ISocialMedia, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &publisher{adapters: m, accounts: accounts, storage: storage}
}

func (u *publisher) adapter(platform model.Platform) (repository.ISocialMedia, error) {
	a, ok := u.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
	return a, nil
}

func (u *publisher) GetAuthorizationURL(platform model.Platform, state string) (string, error) {
	a, err := u.adapter(platform)
	if err != nil {
		return "", err
	}
	return a.GetAuthorizationURL(state), nil
}

// HandleCallback exchanges the code and persists the connected account,
// replacing any existing row for the same platform identity.
func (u *publisher) HandleCallback(ctx context.Context, platform model.Platform, code string) (*model.Account, error) {
	a, err := u.adapter(platform)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.New("authorization code required")
	}
	grant, err := a.HandleCallback(ctx, code)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Platform:       platform,
		PlatformUserID: grant.User.PlatformUserID,
		Username:       grant.User.Username,
		DisplayName:    grant.User.Name,
		AvatarURL:      grant.User.AvatarURL,
		AccessToken:    grant.AccessToken,
		RefreshToken:   grant.RefreshToken,
		TokenExpiresAt: grant.ExpiresAt,
		Status:         model.AccountStatusActive,
		Scopes:         grant.Scopes,
		Metadata:       grant.User.Metadata,
	}
	if err := u.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}
	logger.GetLogger().WithField("platform", platform).WithField("account_id", account.ID).
		Info("account connected")
	return account, nil
}

func (u *publisher) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return u.accounts.List(ctx)
}

// PublishVideo checks the media precondition and dispatches to the account's
// platform adapter.
func (u *publisher) PublishVideo(ctx context.Context, accountID int64, post *model.Post) (*model.PublishResult, error) {
	account, err := u.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	a, err := u.adapter(account.Platform)
	if err != nil {
		return nil, err
	}
	if err := u.checkMedia(account.Platform, post); err != nil {
		return nil, err
	}

	result, err := a.PublishVideo(ctx, account, post)
	if err != nil {
		logger.GetLogger().WithField("platform", account.Platform).WithField("account_id", accountID).
			WithField("error", err).Error("publish failed")
		return nil, err
	}
	logger.GetLogger().WithField("platform", account.Platform).WithField("account_id", accountID).
		WithField("post_id", result.PlatformPostID).Info("video published")
	return result, nil
}

// checkMedia enforces the publish precondition up front: URL-ingest platforms
// need a reachable URL or a local file to expose, upload platforms need the
// local stream itself.
func (u *publisher) checkMedia(platform model.Platform, post *model.Post) error {
	switch platform {
	case model.PlatformInstagram, model.PlatformThreads:
		if post.Meta("video_url", "") != "" {
			return nil
		}
	}
	f, _, err := u.storage.Open(post.VideoPath)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPrecondition, err)
	}
	return f.Close()
}

// PublishToMany fans the same post out to several accounts concurrently; one
// account's failure never aborts the others. Outcomes come back ordered by
// account id.
func (u *publisher) PublishToMany(ctx context.Context, accountIDs []int64, post *model.Post) []PublishOutcome {
	var (
		mu       sync.Mutex
		outcomes = make([]PublishOutcome, 0, len(accountIDs))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range accountIDs {
		id := id
		g.Go(func() error {
			outcome := PublishOutcome{AccountID: id}
			if account, err := u.accounts.GetByID(ctx, id); err == nil {
				outcome.Platform = account.Platform
			}
			result, err := u.PublishVideo(ctx, id, post)
			if err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Result = result
			}
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].AccountID < outcomes[j].AccountID })
	return outcomes
}

func (u *publisher) GetPostMetrics(ctx context.Context, accountID int64, platformPostID string) (*model.MetricsSnapshot, error) {
	account, err := u.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	a, err := u.adapter(account.Platform)
	if err != nil {
		return nil, err
	}
	return a.GetPostMetrics(ctx, account, platformPostID)
}

func (u *publisher) GetAccountAnalytics(ctx context.Context, accountID int64, start, end time.Time) (*model.AccountAnalytics, error) {
	account, err := u.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	a, err := u.adapter(account.Platform)
	if err != nil {
		return nil, err
	}
	return a.GetAccountAnalytics(ctx, account, start, end)
}

func (u *publisher) GetAudienceInsights(ctx context.Context, accountID int64) (*model.AudienceInsights, error) {
	account, err := u.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	a, err := u.adapter(account.Platform)
	if err != nil {
		return nil, err
	}
	return a.GetAudienceInsights(ctx, account)
}
