package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/auth"
	"github.com/example/weaponid/internal/config"
	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/handlers"
	"github.com/example/weaponid/internal/inference"
	"github.com/example/weaponid/internal/ingest"
	"github.com/example/weaponid/internal/logging"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/repository/sqlite"
	"github.com/example/weaponid/internal/token"
	"github.com/example/weaponid/internal/usecase"
)

const detectorPingTimeout = 3 * time.Second

// app owns the long-lived resources shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   repository.Store
	tokens  *token.Service
	closers []func() error
}

// newApp loads configuration, builds the logger and opens the store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		tokens: token.NewService([]byte(cfg.SecretKey), cfg.TokenTTL),
	}
	a.closers = append(a.closers, store.Close)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := repository.NewGormStore(db, logger)
		if err := store.AutoMigrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

func (a *app) openCache(ctx context.Context) (usecase.Cache, error) {
	switch a.cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return usecase.NewRedisCache(client), nil
	case "bolt":
		cache, err := usecase.OpenBoltCache(a.cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		return cache, nil
	default:
		return usecase.NopCache{}, nil
	}
}

func (a *app) openInferencer(ctx context.Context, labels detection.LabelTable) (detection.Inferencer, error) {
	switch a.cfg.InferenceBackend {
	case inference.BackendGRPC:
		inf, err := inference.DialGRPC(ctx, a.cfg.InferenceGRPCAddr, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, inf.Close)
		return inf, nil
	case inference.BackendONNX:
		ids := labels.IDs()
		if len(ids) == 0 {
			return nil, errors.New("onnx backend needs a non-empty label table")
		}
		inf, err := inference.NewONNXInferencer(inference.ONNXConfig{
			ModelPath:   a.cfg.ONNXModelPath,
			LibraryPath: a.cfg.ONNXLibraryPath,
			PoolSize:    a.cfg.ONNXPoolSize,
			NumClasses:  ids[len(ids)-1] + 1,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, inf.Close)
		return inf, nil
	default:
		inf := inference.NewHTTPInferencer(a.cfg.InferenceURL, a.logger)
		pingCtx, cancel := context.WithTimeout(ctx, detectorPingTimeout)
		defer cancel()
		// The detector may start after us; requests fail with InferenceFailure until it does.
		if err := inf.Ping(pingCtx); err != nil {
			a.logger.Warn("inference service health check failed",
				zap.String("url", a.cfg.InferenceURL), zap.Error(err))
		}
		return inf, nil
	}
}

// buildRouter wires the request path: guard, ingestion, staging, detection and history.
func (a *app) buildRouter(ctx context.Context) (*gin.Engine, error) {
	labels, err := detection.LoadLabels(a.cfg.LabelsFile)
	if err != nil {
		return nil, err
	}

	stager, err := ingest.NewStager(a.cfg.StagingDir, a.logger)
	if err != nil {
		return nil, err
	}

	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	inferencer, err := a.openInferencer(ctx, labels)
	if err != nil {
		return nil, err
	}

	aggregator := detection.NewAggregator(inferencer, labels, a.cfg.ConfidenceThreshold)
	recognition := usecase.NewRecognitionUseCase(a.store, cache, stager, aggregator, a.logger)
	accounts := usecase.NewAuthUseCase(a.store, a.tokens, a.logger)
	guard := auth.NewGuard(a.tokens, a.store, a.logger)

	if !a.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	router.Use(handlers.Recovery(a.logger), handlers.RequestLogger(a.logger))
	handlers.RegisterRoutes(router, handlers.Deps{
		Recognition: recognition,
		Accounts:    accounts,
		Guard:       guard,
		Logger:      a.logger,
	})

	a.logger.Info("request pipeline ready",
		zap.String("inference_backend", a.cfg.InferenceBackend),
		zap.String("cache_backend", a.cfg.CacheBackend),
		zap.String("database_driver", a.cfg.DatabaseDriver),
		zap.Float64("confidence_threshold", aggregator.Threshold()),
		zap.Int("classes", labels.Len()),
		zap.String("staging_dir", stager.Dir()),
	)
	return router, nil
}
