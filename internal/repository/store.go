package repository

import "context"

// Store is the persistence surface shared by the SQLite and Postgres backends.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SaveRecognition(ctx context.Context, log *RecognitionLog) error
	FindRecognition(ctx context.Context, requestID, userID string) (*RecognitionLog, error)
	ListRecognitions(ctx context.Context, userID string, limit int) ([]RecognitionLog, error)
	AggregateMetrics(ctx context.Context, userID string) (*MetricsAggregation, error)
	Close() error
}

var _ Store = (*GormStore)(nil)
