package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/ingest"
	"github.com/example/weaponid/internal/logging"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/retry"
)

// Recognition sources recorded in history.
const (
	SourceMultipart = "multipart"
	SourceBase64    = "base64"
	SourcePublic    = "public"
)

const (
	processingMarker = "processing"
	processingTTL    = time.Minute
	resultTTL        = 5 * time.Minute
)

// RecognitionRepository defines the persistence operations needed by the use case.
type RecognitionRepository interface {
	SaveRecognition(ctx context.Context, log *repository.RecognitionLog) error
	FindRecognition(ctx context.Context, requestID, userID string) (*repository.RecognitionLog, error)
	AggregateMetrics(ctx context.Context, userID string) (*repository.MetricsAggregation, error)
}

// Stager writes a buffer to a transient file for the duration of fn.
type Stager interface {
	WithStagedFile(ctx context.Context, buf *ingest.Buffer, fn func(path string) error) error
}

// Detector reduces one image to a ranked detection set.
type Detector interface {
	Detect(ctx context.Context, in detection.Input) (detection.Set, error)
}

// RecognitionUseCase encapsulates business logic for the recognition flow.
type RecognitionUseCase struct {
	repo     RecognitionRepository
	cache    Cache
	stager   Stager
	detector Detector
	logger   *zap.Logger
	policy   retry.Policy
	now      func() time.Time
}

// Outcome is the result of one recognition request.
type Outcome struct {
	RequestID string
	Set       detection.Set
}

type cachedRecognition struct {
	RequestID         string    `json:"request_id"`
	UserID            string    `json:"user_id"`
	Source            string    `json:"source"`
	DetectionCount    int       `json:"detection_count"`
	PrimaryClass      string    `json:"primary_class"`
	PrimaryConfidence float64   `json:"primary_confidence"`
	Details           string    `json:"details"`
	Hash              string    `json:"sha1_hash"`
	CreatedAt         time.Time `json:"created_at"`
}

// storedDetection is the history form of a detection, kept at full precision.
type storedDetection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// NewRecognitionUseCase constructs a new use case instance.
func NewRecognitionUseCase(repo RecognitionRepository, cache Cache, stager Stager, detector Detector, logger *zap.Logger) *RecognitionUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	return &RecognitionUseCase{
		repo:     repo,
		cache:    cache,
		stager:   stager,
		detector: detector,
		logger:   logger.Named("recognition_usecase"),
		policy:   retry.DefaultPolicy,
		now:      time.Now,
	}
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("recognition:%s", requestID)
}

// Recognize stages the image, runs detection and records the outcome.
// An empty userID marks an anonymous request, which is neither cached nor
// persisted. History and cache writes never fail the request.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, userID string, buf *ingest.Buffer, source string) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)
	tracked := userID != ""

	if tracked {
		if err := uc.withRetry(ctx, requestID, "cache.set.processing", func() error {
			return uc.cache.Set(ctx, cacheKey(requestID), processingMarker, processingTTL)
		}); err != nil {
			opLogger.Warn("failed to set processing flag", zap.Error(err))
		}
	}

	var set detection.Set
	err := uc.stager.WithStagedFile(ctx, buf, func(path string) error {
		var detectErr error
		set, detectErr = uc.detector.Detect(ctx, detection.Input{
			RequestID: requestID,
			Path:      path,
			Image:     buf.Image,
			Data:      buf.Data,
			Format:    buf.Format,
		})
		return detectErr
	})
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.Wrap(apperr.Internal, "识别失败", logging.NewOperationError("usecase.stage_image", requestID, err))
		}
		opLogger.Error("recognition failed", zap.Error(err), zap.String("source", source))
		return nil, err
	}

	opLogger.Info("recognition completed",
		zap.String("source", source),
		zap.Int("detections", len(set.Detections)),
		zap.Int("width", buf.Width()),
		zap.Int("height", buf.Height()),
	)

	if tracked {
		uc.record(ctx, opLogger, requestID, userID, source, buf.Data, set)
	}
	return &Outcome{RequestID: requestID, Set: set}, nil
}

func (uc *RecognitionUseCase) record(ctx context.Context, opLogger *zap.Logger, requestID, userID, source string, data []byte, set detection.Set) {
	hash := sha1.Sum(data)
	log := &repository.RecognitionLog{
		RequestID:      requestID,
		UserID:         userID,
		Source:         source,
		DetectionCount: len(set.Detections),
		SHA1Hash:       hex.EncodeToString(hash[:]),
		CreatedAt:      uc.now().UTC(),
	}
	if set.Primary != nil {
		log.PrimaryClass = set.Primary.ClassName
		log.PrimaryConfidence = set.Primary.Confidence
	}

	stored := make([]storedDetection, 0, len(set.Detections))
	for _, d := range set.Detections {
		stored = append(stored, storedDetection{ClassID: d.ClassID, ClassName: d.ClassName, Confidence: d.Confidence, BBox: d.BBox})
	}
	details, err := json.Marshal(stored)
	if err != nil {
		opLogger.Error("failed to serialize detections", zap.Error(err))
		return
	}
	log.Details = string(details)

	if err := uc.repo.SaveRecognition(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_recognition", requestID, err)
		opLogger.Error("failed to persist recognition log", zap.Error(wrapped))
	}

	serialized, err := json.Marshal(cachedRecognition{
		RequestID:         log.RequestID,
		UserID:            log.UserID,
		Source:            log.Source,
		DetectionCount:    log.DetectionCount,
		PrimaryClass:      log.PrimaryClass,
		PrimaryConfidence: log.PrimaryConfidence,
		Details:           log.Details,
		Hash:              log.SHA1Hash,
		CreatedAt:         log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize recognition result", zap.Error(err))
		return
	}
	if err := uc.withRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey(requestID), string(serialized), resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache recognition result", zap.Error(err))
	}
}

// GetResult retrieves a cached recognition outcome or loads it from persistence.
// Records belonging to other users are reported as not found.
func (uc *RecognitionUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	var cached string
	err := uc.withRetry(ctx, requestID, "cache.get.result", func() error {
		value, err := uc.cache.Get(ctx, cacheKey(requestID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err == nil && cached != processingMarker:
		var payload cachedRecognition
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
			break
		}
		if payload.UserID != userID {
			break
		}
		return &repository.RecognitionLog{
			RequestID:         payload.RequestID,
			UserID:            payload.UserID,
			Source:            payload.Source,
			DetectionCount:    payload.DetectionCount,
			PrimaryClass:      payload.PrimaryClass,
			PrimaryConfidence: payload.PrimaryConfidence,
			Details:           payload.Details,
			SHA1Hash:          payload.Hash,
			CreatedAt:         payload.CreatedAt,
		}, nil
	case err != nil && !errors.Is(err, ErrCacheMiss):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindRecognition(ctx, requestID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "识别记录不存在", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "查询识别记录失败", err)
	}
	return log, nil
}

func (uc *RecognitionUseCase) withRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.logger, uc.policy, operation, requestID, fn)
}
