package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the depositor
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new depositor repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// WithSwordActivated returns all accounts that have a sword collection
// configured, fully materialized.
func (r *Repository) WithSwordActivated(ctx context.Context) ([]*Account, error) {
	query := `
		SELECT
			id, api_key, packaging, sword_collection, sword_username,
			sword_password, sword_deposit_method, repository_software
		FROM accounts
		WHERE sword_collection IS NOT NULL AND sword_collection <> ''
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sword activated accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var acc Account
		err := rows.Scan(
			&acc.ID,
			&acc.APIKey,
			&acc.Packaging,
			&acc.SwordCollection,
			&acc.SwordUsername,
			&acc.SwordPassword,
			&acc.SwordDepositMethod,
			&acc.RepositorySoftware,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return accounts, nil
}

// GetAccount retrieves a single account by id. Returns (nil, nil) when the
// account does not exist.
func (r *Repository) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT
			id, api_key, packaging, sword_collection, sword_username,
			sword_password, sword_deposit_method, repository_software
		FROM accounts
		WHERE id = $1
	`

	var acc Account
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&acc.ID,
		&acc.APIKey,
		&acc.Packaging,
		&acc.SwordCollection,
		&acc.SwordUsername,
		&acc.SwordPassword,
		&acc.SwordDepositMethod,
		&acc.RepositorySoftware,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	return &acc, nil
}

// GetRepositoryStatus retrieves the status record for an account. Returns
// (nil, nil) when the account has never deposited.
func (r *Repository) GetRepositoryStatus(ctx context.Context, accountID string) (*RepositoryStatus, error) {
	query := `
		SELECT id, status, last_deposit_date, last_tried, retries, created_at, last_updated
		FROM sword_repository_status
		WHERE id = $1
	`

	var rs RepositoryStatus
	err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(
		&rs.ID,
		&rs.Status,
		&rs.LastDepositDate,
		&rs.LastTried,
		&rs.Retries,
		&rs.CreatedAt,
		&rs.LastUpdated,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query repository status: %w", err)
	}

	return &rs, nil
}

// SaveRepositoryStatus upserts the status record for an account.
func (r *Repository) SaveRepositoryStatus(ctx context.Context, rs *RepositoryStatus) error {
	query := `
		INSERT INTO sword_repository_status (id, status, last_deposit_date, last_tried, retries)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_deposit_date = EXCLUDED.last_deposit_date,
			last_tried = EXCLUDED.last_tried,
			retries = EXCLUDED.retries,
			last_updated = NOW()
		RETURNING created_at, last_updated
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rs.ID,
		rs.Status,
		rs.LastDepositDate,
		rs.LastTried,
		rs.Retries,
	).Scan(&rs.CreatedAt, &rs.LastUpdated)

	if err != nil {
		r.logger.Error("failed to save repository status",
			zap.Error(err),
			zap.String("account_id", rs.ID),
		)
		return fmt.Errorf("save repository status: %w", err)
	}

	return nil
}

// PullDepositRecord returns the most recent deposit record for the
// (notification, account) pair, or (nil, nil) when there is none.
func (r *Repository) PullDepositRecord(ctx context.Context, notificationID, accountID string) (*DepositRecord, error) {
	query := `
		SELECT id, repo, notification, deposit_date, metadata_status,
		       content_status, completed_status, messages, created_at, last_updated
		FROM sword_deposit_record
		WHERE notification = $1 AND repo = $2
		ORDER BY last_updated DESC
		LIMIT 1
	`

	var dr DepositRecord
	var messages []byte
	err := r.db.Pool().QueryRow(ctx, query, notificationID, accountID).Scan(
		&dr.ID,
		&dr.Repo,
		&dr.Notification,
		&dr.DepositDate,
		&dr.MetadataStatus,
		&dr.ContentStatus,
		&dr.CompletedStatus,
		&messages,
		&dr.CreatedAt,
		&dr.LastUpdated,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query deposit record: %w", err)
	}

	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &dr.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal deposit record messages: %w", err)
		}
	}

	return &dr, nil
}

// CountDepositRecords returns the total number of deposit records for the
// (notification, account) pair.
func (r *Repository) CountDepositRecords(ctx context.Context, notificationID, accountID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sword_deposit_record
		WHERE notification = $1 AND repo = $2
	`

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, notificationID, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count deposit records: %w", err)
	}

	return count, nil
}

// SaveDepositRecord upserts a deposit record.
func (r *Repository) SaveDepositRecord(ctx context.Context, dr *DepositRecord) error {
	messages, err := json.Marshal(dr.Messages)
	if err != nil {
		return fmt.Errorf("marshal deposit record messages: %w", err)
	}

	query := `
		INSERT INTO sword_deposit_record (
			id, repo, notification, deposit_date, metadata_status,
			content_status, completed_status, messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			deposit_date = EXCLUDED.deposit_date,
			metadata_status = EXCLUDED.metadata_status,
			content_status = EXCLUDED.content_status,
			completed_status = EXCLUDED.completed_status,
			messages = EXCLUDED.messages,
			last_updated = NOW()
		RETURNING created_at, last_updated
	`

	err = r.db.Pool().QueryRow(ctx, query,
		dr.ID,
		dr.Repo,
		dr.Notification,
		dr.DepositDate,
		dr.MetadataStatus,
		dr.ContentStatus,
		dr.CompletedStatus,
		messages,
	).Scan(&dr.CreatedAt, &dr.LastUpdated)

	if err != nil {
		r.logger.Error("failed to save deposit record",
			zap.Error(err),
			zap.String("deposit_record_id", dr.ID),
			zap.String("notification_id", dr.Notification),
			zap.String("account_id", dr.Repo),
		)
		return fmt.Errorf("save deposit record: %w", err)
	}

	return nil
}

// SaveDepositLog upserts a per-pass deposit log.
func (r *Repository) SaveDepositLog(ctx context.Context, dl *RepositoryDepositLog) error {
	messages, err := json.Marshal(dl.Messages)
	if err != nil {
		return fmt.Errorf("marshal deposit log messages: %w", err)
	}

	query := `
		INSERT INTO sword_repository_deposit_log (id, repo, status, messages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			messages = EXCLUDED.messages,
			last_updated = NOW()
		RETURNING created_at, last_updated
	`

	err = r.db.Pool().QueryRow(ctx, query,
		dl.ID,
		dl.Repo,
		dl.Status,
		messages,
	).Scan(&dl.CreatedAt, &dl.LastUpdated)

	if err != nil {
		r.logger.Error("failed to save deposit log",
			zap.Error(err),
			zap.String("deposit_log_id", dl.ID),
			zap.String("account_id", dl.Repo),
		)
		return fmt.Errorf("save deposit log: %w", err)
	}

	return nil
}

// LatestDepositLog returns the most recent pass log for the account, or
// (nil, nil) when the account has never been processed.
func (r *Repository) LatestDepositLog(ctx context.Context, accountID string) (*RepositoryDepositLog, error) {
	query := `
		SELECT id, repo, status, messages, created_at, last_updated
		FROM sword_repository_deposit_log
		WHERE repo = $1
		ORDER BY last_updated DESC
		LIMIT 1
	`

	var dl RepositoryDepositLog
	var messages []byte
	err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(
		&dl.ID,
		&dl.Repo,
		&dl.Status,
		&messages,
		&dl.CreatedAt,
		&dl.LastUpdated,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query deposit log: %w", err)
	}

	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &dl.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal deposit log messages: %w", err)
		}
	}

	return &dl, nil
}
