package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the configured database, retrying while it comes up, and
// applies the schema.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*SQLStore, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	var db *sqlx.DB
	connect := func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, driver, dsn)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Database not ready")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite3" {
		// A single writer keeps status compare-and-swap updates serialized.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &SQLStore{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func dataSource(cfg *config.DatabaseConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "sqlite", "":
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", fmt.Errorf("failed to create data directory: %w", err)
		}
		return "sqlite3", cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "postgres":
		return "postgres", cfg.URL, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Migrate runs database migrations.
func (s *SQLStore) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS moderation_queue (
			id TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			content_id TEXT NOT NULL,
			status TEXT NOT NULL,
			firebase_uid TEXT,
			content_data TEXT,
			media_url TEXT,
			ai_analysis TEXT,
			risk_score DOUBLE PRECISION,
			flags TEXT,
			moderator_id TEXT,
			rejection_reason TEXT,
			notes TEXT,
			moderated_at TIMESTAMP,
			video_pending BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON moderation_queue(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_content ON moderation_queue(content_type, content_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_video_pending ON moderation_queue(video_pending)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			firebase_uid TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			sponsor_id TEXT,
			location TEXT,
			rules TEXT,
			rewards TEXT,
			media TEXT,
			requirements TEXT,
			tags TEXT,
			start_date TIMESTAMP,
			end_date TIMESTAMP,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			approved_by TEXT,
			approved_at TIMESTAMP,
			rejection_reason TEXT,
			submission_count INTEGER NOT NULL DEFAULT 0,
			view_count INTEGER NOT NULL DEFAULT 0,
			participant_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_status ON challenges(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_creator ON challenges(creator_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateQueueItem inserts a new moderation queue item.
func (s *SQLStore) CreateQueueItem(ctx context.Context, item *models.ModerationQueueItem) error {
	row, err := toQueueRow(item)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO moderation_queue (`+queueColumns+`)
		VALUES (:id, :content_type, :content_id, :status, :firebase_uid, :content_data, :media_url,
			:ai_analysis, :risk_score, :flags, :moderator_id, :rejection_reason, :notes, :moderated_at,
			:video_pending, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

// GetQueueItem retrieves a queue item by ID.
func (s *SQLStore) GetQueueItem(ctx context.Context, id string) (*models.ModerationQueueItem, error) {
	var row queueRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+queueColumns+` FROM moderation_queue WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return row.toModel()
}

// ListQueueItems returns queue items, oldest first.
func (s *SQLStore) ListQueueItems(ctx context.Context, filter models.QueueFilter) ([]*models.ModerationQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM moderation_queue`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	return s.selectQueue(ctx, query, args...)
}

// ListPendingVideoItems returns items whose video analysis job is still running.
func (s *SQLStore) ListPendingVideoItems(ctx context.Context, limit int) ([]*models.ModerationQueueItem, error) {
	return s.selectQueue(ctx, `SELECT `+queueColumns+` FROM moderation_queue
		WHERE video_pending = ? ORDER BY updated_at ASC LIMIT ?`, true, limit)
}

func (s *SQLStore) selectQueue(ctx context.Context, query string, args ...any) ([]*models.ModerationQueueItem, error) {
	var rows []queueRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	items := make([]*models.ModerationQueueItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateQueueItem overwrites the mutable fields of an item if its stored
// status still equals expected.
func (s *SQLStore) UpdateQueueItem(ctx context.Context, item *models.ModerationQueueItem, expected models.QueueStatus) (bool, error) {
	row, err := toQueueRow(item)
	if err != nil {
		return false, err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE moderation_queue SET
			status = :status, content_data = :content_data, media_url = :media_url,
			ai_analysis = :ai_analysis, risk_score = :risk_score, flags = :flags,
			moderator_id = :moderator_id, rejection_reason = :rejection_reason, notes = :notes,
			moderated_at = :moderated_at, video_pending = :video_pending, updated_at = :updated_at
		WHERE id = :id AND status = :expected_status`, struct {
		queueRow
		Expected string `db:"expected_status"`
	}{*row, string(expected)})
	if err != nil {
		return false, fmt.Errorf("failed to update queue item: %w", err)
	}
	return affected(res)
}

// CreateChallenge inserts a new challenge.
func (s *SQLStore) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (:id, :title, :description, :status, :difficulty, :firebase_uid, :creator_id,
			:sponsor_id, :location, :rules, :rewards, :media, :requirements, :tags, :start_date, :end_date,
			:is_featured, :is_private, :approved_by, :approved_at, :rejection_reason, :submission_count,
			:view_count, :participant_count, :created_at, :updated_at)`, toChallengeRow(c))
	if err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by ID.
func (s *SQLStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var row challengeRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+challengeColumns+` FROM challenges WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return row.toModel(), nil
}

// ListChallenges returns challenges, newest first.
func (s *SQLStore) ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CreatorID != "" {
		where = append(where, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.Featured != nil {
		where = append(where, "is_featured = ?")
		args = append(args, *filter.Featured)
	}
	if !filter.IncludePrivate {
		where = append(where, "(is_private = ? OR creator_id = ?)")
		args = append(args, false, filter.ViewerUID)
	}

	query := `SELECT ` + challengeColumns + ` FROM challenges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var rows []challengeRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}

	challenges := make([]*models.Challenge, 0, len(rows))
	for i := range rows {
		challenges = append(challenges, rows[i].toModel())
	}
	return challenges, nil
}

// UpdateChallenge overwrites a challenge if its stored status still equals expected.
func (s *SQLStore) UpdateChallenge(ctx context.Context, c *models.Challenge, expected models.ChallengeStatus) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE challenges SET
			title = :title, description = :description, status = :status, difficulty = :difficulty,
			sponsor_id = :sponsor_id, location = :location, rules = :rules, rewards = :rewards,
			media = :media, requirements = :requirements, tags = :tags, start_date = :start_date,
			end_date = :end_date, is_featured = :is_featured, is_private = :is_private,
			approved_by = :approved_by, approved_at = :approved_at, rejection_reason = :rejection_reason,
			submission_count = :submission_count, participant_count = :participant_count,
			updated_at = :updated_at
		WHERE id = :id AND status = :expected_status`, struct {
		challengeRow
		Expected string `db:"expected_status"`
	}{*toChallengeRow(c), string(expected)})
	if err != nil {
		return false, fmt.Errorf("failed to update challenge: %w", err)
	}
	return affected(res)
}

// DeleteChallenge removes a challenge. It reports false when nothing was deleted.
func (s *SQLStore) DeleteChallenge(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM challenges WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete challenge: %w", err)
	}
	return affected(res)
}

// IncrementChallengeViews bumps the view counter atomically.
func (s *SQLStore) IncrementChallengeViews(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE challenges SET view_count = view_count + 1 WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to record view: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
