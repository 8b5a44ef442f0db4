// Package sqlite implements the user and recognition stores on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/example/weaponid/internal/repository"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage is the SQLite-backed store.
type Storage struct {
	db *sql.DB
}

var _ repository.Store = (*Storage)(nil)

// New opens dbPath, applies pragmas and runs embedded migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, user *repository.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, nullString(user.Email), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.username") {
			return repository.ErrUsernameTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*repository.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*repository.User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *Storage) getUser(ctx context.Context, column, value string) (*repository.User, error) {
	query := `SELECT id, username, password_hash, email, created_at, updated_at FROM users WHERE ` + column + ` = ?`

	var (
		user  repository.User
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &email, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if email.Valid {
		user.Email = &email.String
	}
	return &user, nil
}

func (s *Storage) SaveRecognition(ctx context.Context, log *repository.RecognitionLog) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recognition_logs
			(request_id, user_id, source, detection_count, primary_class, primary_confidence, details, sha1_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RequestID, log.UserID, log.Source, log.DetectionCount, log.PrimaryClass,
		log.PrimaryConfidence, log.Details, log.SHA1Hash, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recognition log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		log.ID = uint(id)
	}
	return nil
}

const recognitionColumns = `id, request_id, user_id, source, detection_count, primary_class, primary_confidence, details, sha1_hash, created_at`

func (s *Storage) FindRecognition(ctx context.Context, requestID, userID string) (*repository.RecognitionLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recognitionColumns+` FROM recognition_logs WHERE request_id = ? AND user_id = ?`,
		requestID, userID)

	log, err := scanRecognition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recognition log: %w", err)
	}
	return log, nil
}

func (s *Storage) ListRecognitions(ctx context.Context, userID string, limit int) ([]repository.RecognitionLog, error) {
	query := `SELECT ` + recognitionColumns + ` FROM recognition_logs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recognition logs: %w", err)
	}
	defer rows.Close()

	var logs []repository.RecognitionLog
	for rows.Next() {
		log, err := scanRecognition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recognition log: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

func (s *Storage) AggregateMetrics(ctx context.Context, userID string) (*repository.MetricsAggregation, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN detection_count > 0 THEN 1 ELSE 0 END), 0),
		       AVG(CASE WHEN detection_count > 0 THEN primary_confidence END)
		FROM recognition_logs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var (
		agg repository.MetricsAggregation
		avg sql.NullFloat64
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&agg.TotalCount, &agg.WithDetectionsCount, &avg); err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	if avg.Valid {
		agg.AveragePrimaryConfidence = avg.Float64
	}
	return &agg, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecognition(row scanner) (*repository.RecognitionLog, error) {
	var (
		log repository.RecognitionLog
		id  int64
	)
	err := row.Scan(&id, &log.RequestID, &log.UserID, &log.Source, &log.DetectionCount,
		&log.PrimaryClass, &log.PrimaryConfidence, &log.Details, &log.SHA1Hash, &log.CreatedAt)
	if err != nil {
		return nil, err
	}
	log.ID = uint(id)
	return &log, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
