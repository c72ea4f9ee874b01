package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/utils"
)

// EnsureAccountSchema creates the connected-accounts table when missing.
// Safe to call at every startup.
func EnsureAccountSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ddl := `CREATE TABLE IF NOT EXISTS social_accounts (
		id BIGSERIAL PRIMARY KEY,
		platform TEXT NOT NULL,
		platform_user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'active',
		scopes TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (platform, platform_user_id)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating social_accounts failed: %w", err)
	}
	return nil
}

type AccountRepository struct{ db *sql.DB }

func NewAccountRepository(db *sql.DB) *AccountRepository { return &AccountRepository{db: db} }

const accountColumns = `id, platform, platform_user_id, username, display_name, avatar_url, access_token, refresh_token, token_expires_at, status, scopes, metadata, created_at, updated_at`

// updatableColumns whitelists what UpdateAccount may touch.
var updatableColumns = map[string]bool{
	"username":         true,
	"display_name":     true,
	"avatar_url":       true,
	"access_token":     true,
	"refresh_token":    true,
	"token_expires_at": true,
	"status":           true,
	"scopes":           true,
	"metadata":         true,
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM social_accounts WHERE id=$1`, id)
	return scanAccount(row)
}

func (r *AccountRepository) GetByPlatformUser(ctx context.Context, platform model.Platform, platformUserID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM social_accounts WHERE platform=$1 AND platform_user_id=$2`, string(platform), platformUserID)
	return scanAccount(row)
}

func (r *AccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM social_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []*model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// Upsert inserts or replaces the row for (platform, platform_user_id) and
// fills in the generated id and timestamps.
func (r *AccountRepository) Upsert(ctx context.Context, account *model.Account) error {
	now := utils.GetCurrentTime()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	meta, err := json.Marshal(metadataOrEmpty(account.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	q := `INSERT INTO social_accounts (platform, platform_user_id, username, display_name, avatar_url, access_token, refresh_token, token_expires_at, status, scopes, metadata, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		  ON CONFLICT (platform, platform_user_id) DO UPDATE SET
			username=EXCLUDED.username,
			display_name=EXCLUDED.display_name,
			avatar_url=EXCLUDED.avatar_url,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_expires_at=EXCLUDED.token_expires_at,
			status=EXCLUDED.status,
			scopes=EXCLUDED.scopes,
			metadata=EXCLUDED.metadata,
			updated_at=EXCLUDED.updated_at
		  RETURNING id, created_at`
	var exp interface{}
	if account.TokenExpiresAt != nil {
		exp = *account.TokenExpiresAt
	}
	row := r.db.QueryRowContext(ctx, q,
		string(account.Platform), account.PlatformUserID, account.Username, account.DisplayName,
		account.AvatarURL, account.AccessToken, account.RefreshToken, exp,
		string(account.Status), account.Scopes, meta, account.CreatedAt, account.UpdatedAt)
	return row.Scan(&account.ID, &account.CreatedAt)
}

// UpdateAccount patches the whitelisted columns in fields and bumps
// updated_at. Unknown columns are rejected rather than ignored.
func (r *AccountRepository) UpdateAccount(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+2)
	for i, col := range cols {
		v := fields[col]
		if col == "metadata" {
			if m, ok := v.(map[string]string); ok {
				raw, err := json.Marshal(metadataOrEmpty(m))
				if err != nil {
					return fmt.Errorf("encode metadata: %w", err)
				}
				v = raw
			}
		}
		sets = append(sets, fmt.Sprintf("%s=$%d", col, i+1))
		args = append(args, v)
	}
	sets = append(sets, fmt.Sprintf("updated_at=$%d", len(cols)+1))
	args = append(args, utils.GetCurrentTime())
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE social_accounts SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(cols)+2)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	acc := &model.Account{}
	var (
		platform, status string
		exp              sql.NullTime
		meta             []byte
	)
	if err := row.Scan(&acc.ID, &platform, &acc.PlatformUserID, &acc.Username, &acc.DisplayName,
		&acc.AvatarURL, &acc.AccessToken, &acc.RefreshToken, &exp, &status, &acc.Scopes,
		&meta, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	acc.Platform = model.Platform(platform)
	acc.Status = model.AccountStatus(status)
	if exp.Valid {
		t := exp.Time
		acc.TokenExpiresAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &acc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return acc, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
