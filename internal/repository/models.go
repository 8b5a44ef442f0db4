package repository

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or recognition record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken is returned when creating a user whose username already exists.
	ErrUsernameTaken = errors.New("username already exists")
)

// User is a registered account.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"column:username;uniqueIndex;size:80;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	Email        *string   `gorm:"column:email;size:120"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// RecognitionLog is the persisted outcome of one authenticated recognition request.
type RecognitionLog struct {
	ID                uint      `gorm:"primaryKey" parquet:"-"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64" parquet:"request_id"`
	UserID            string    `gorm:"column:user_id;index;size:36" parquet:"user_id"`
	Source            string    `gorm:"column:source;size:16" parquet:"source"`
	DetectionCount    int       `gorm:"column:detection_count" parquet:"detection_count"`
	PrimaryClass      string    `gorm:"column:primary_class;size:64" parquet:"primary_class"`
	PrimaryConfidence float64   `gorm:"column:primary_confidence" parquet:"primary_confidence"`
	Details           string    `gorm:"column:details;type:text" parquet:"details"`
	SHA1Hash          string    `gorm:"column:sha1_hash;index;size:40" parquet:"sha1_hash"`
	CreatedAt         time.Time `gorm:"column:created_at" parquet:"created_at,timestamp"`
}

// TableName overrides the default table name.
func (RecognitionLog) TableName() string {
	return "recognition_logs"
}

// MetricsAggregation holds raw aggregates over recognition logs.
type MetricsAggregation struct {
	TotalCount               int64
	WithDetectionsCount      int64
	AveragePrimaryConfidence float64
}
