package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/weaponid/internal/retry"
)

// OpenPostgres connects to Postgres through gorm and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

// GormStore persists users and recognition logs through gorm.
type GormStore struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewGormStore creates a new store instance.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:             db,
		logger:         logger.Named("gorm_store"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&User{}, &RecognitionLog{})
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateUser(ctx context.Context, user *User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameTaken
	}
	return err
}

func (s *GormStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "repository.get_user_by_id", "id = ?", id)
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, "repository.get_user_by_username", "username = ?", username)
}

func (s *GormStore) findUser(ctx context.Context, operation, query string, arg string) (*User, error) {
	var user User
	err := s.executeWithRetry(ctx, operation, "", func() error {
		return s.db.WithContext(ctx).First(&user, query, arg).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveRecognition persists a recognition log entry.
func (s *GormStore) SaveRecognition(ctx context.Context, log *RecognitionLog) error {
	return s.executeWithRetry(ctx, "repository.save_recognition", log.RequestID, func() error {
		return s.db.WithContext(ctx).Create(log).Error
	})
}

// FindRecognition retrieves a recognition log matching the request and owner.
func (s *GormStore) FindRecognition(ctx context.Context, requestID, userID string) (*RecognitionLog, error) {
	var log RecognitionLog
	err := s.executeWithRetry(ctx, "repository.find_recognition", requestID, func() error {
		return s.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListRecognitions returns logs newest first. An empty userID lists every user's logs.
func (s *GormStore) ListRecognitions(ctx context.Context, userID string, limit int) ([]RecognitionLog, error) {
	var logs []RecognitionLog
	err := s.executeWithRetry(ctx, "repository.list_recognitions", "", func() error {
		q := s.db.WithContext(ctx).Order("created_at DESC")
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&logs).Error
	})
	return logs, err
}

// AggregateMetrics summarizes recognition logs, optionally for a single user.
func (s *GormStore) AggregateMetrics(ctx context.Context, userID string) (*MetricsAggregation, error) {
	var row struct {
		Total          int64
		WithDetections int64
		AvgConfidence  *float64
	}
	err := s.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		q := s.db.WithContext(ctx).Model(&RecognitionLog{}).Select(
			"COUNT(*) AS total, " +
				"COALESCE(SUM(CASE WHEN detection_count > 0 THEN 1 ELSE 0 END), 0) AS with_detections, " +
				"AVG(CASE WHEN detection_count > 0 THEN primary_confidence END) AS avg_confidence")
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q.Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{TotalCount: row.Total, WithDetectionsCount: row.WithDetections}
	if row.AvgConfidence != nil {
		agg.AveragePrimaryConfidence = *row.AvgConfidence
	}
	return agg, nil
}

func (s *GormStore) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{Attempts: s.retryAttempts, InitialBackoff: s.initialBackoff, MaxBackoff: s.maxBackoff}
	return retry.Do(ctx, s.logger, policy, operation, requestID, fn)
}
