// Package handlers exposes the recognition and account flows over HTTP.
package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/auth"
	"github.com/example/weaponid/internal/ingest"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/usecase"
)

// MaxUploadSize is the largest accepted image.
const MaxUploadSize = ingest.MaxUploadSize

// formOverhead leaves room for multipart headers and JSON framing around the image.
const formOverhead = 1 << 20

// Recognizer runs and looks up recognitions.
type Recognizer interface {
	Recognize(ctx context.Context, userID string, buf *ingest.Buffer, source string) (*usecase.Outcome, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error)
	GetMetricsSummary(ctx context.Context, userID string) (*usecase.MetricsSummary, error)
}

// Accounts handles login and registration.
type Accounts interface {
	Login(ctx context.Context, username, password string) (*usecase.LoginResult, error)
	Register(ctx context.Context, username, password string, email *string) (*auth.Identity, error)
}

// Deps collects what the routes need.
type Deps struct {
	Recognition Recognizer
	Accounts    Accounts
	Guard       *auth.Guard
	Logger      *zap.Logger
}

type api struct {
	recognition Recognizer
	accounts    Accounts
	logger      *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	a := &api{recognition: deps.Recognition, accounts: deps.Accounts, logger: deps.Logger.Named("http")}
	requireAuth := auth.Middleware(deps.Guard, a.fail)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	authGroup.POST("/login", a.login)
	authGroup.POST("/register", a.register)
	authGroup.GET("/profile", requireAuth, a.profile)

	weapon := router.Group("/weapon", requireAuth)
	weapon.POST("/recognize", a.recognizeUpload)
	weapon.POST("/recognize-base64", a.recognizeBase64)
	weapon.GET("/result/:id", a.result)
	weapon.GET("/metrics", a.metrics)

	router.POST("/api/recognize", a.recognizePublic)
}

func (a *api) fail(c *gin.Context, err error) {
	abortWithError(c, a.logger, err)
}

type credentialsRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Email    *string `json:"email"`
}

func (r credentialsRequest) complete() bool {
	return r.Username != nil && r.Password != nil
}

func (a *api) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.complete() {
		a.fail(c, apperr.New(apperr.MissingField, "缺少必要字段"))
		return
	}

	result, err := a.accounts.Login(c.Request.Context(), *req.Username, *req.Password)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":       http.StatusOK,
		"message":    "登录成功",
		"token":      result.Token.Value,
		"expires_at": result.Token.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       result.User,
	})
}

func (a *api) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.complete() {
		a.fail(c, apperr.New(apperr.MissingField, "缺少必要字段"))
		return
	}

	identity, err := a.accounts.Register(c.Request.Context(), *req.Username, *req.Password, req.Email)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    http.StatusCreated,
		"message": "注册成功",
		"user":    identity,
	})
}

func (a *api) profile(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "user": identity})
}

func (a *api) recognizeUpload(c *gin.Context) {
	buf, err := a.readUpload(c, "image")
	if err != nil {
		a.fail(c, err)
		return
	}
	a.respondRecognition(c, buf, usecase.SourceMultipart)
}

type base64Request struct {
	ImageData *string `json:"image_data"`
}

func (a *api) recognizeBase64(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize*4/3+formOverhead)

	var req base64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(c, apperr.New(apperr.PayloadTooLarge, "图片过大"))
			return
		}
		a.fail(c, apperr.Wrap(apperr.MissingField, "缺少图片数据", err))
		return
	}
	if req.ImageData == nil {
		a.fail(c, apperr.New(apperr.MissingField, "缺少图片数据"))
		return
	}

	buf, err := ingest.FromBase64(*req.ImageData)
	if err != nil {
		a.fail(c, err)
		return
	}
	a.respondRecognition(c, buf, usecase.SourceBase64)
}

func (a *api) respondRecognition(c *gin.Context, buf *ingest.Buffer, source string) {
	identity, _ := auth.IdentityFrom(c.Request.Context())
	out, err := a.recognition.Recognize(c.Request.Context(), identity.ID, buf, source)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":       http.StatusOK,
		"message":    msgRecognized,
		"request_id": out.RequestID,
		"result":     presentResult(out.Set),
	})
}

func (a *api) recognizePublic(c *gin.Context) {
	buf, err := a.readUpload(c, "file")
	if err != nil {
		a.fail(c, err)
		return
	}

	out, err := a.recognition.Recognize(c.Request.Context(), "", buf, usecase.SourcePublic)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentPublic(out.Set))
}

func (a *api) readUpload(c *gin.Context, field string) (*ingest.Buffer, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+formOverhead)

	fh, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			return nil, apperr.New(apperr.PayloadTooLarge, "图片过大")
		}
		return nil, apperr.Wrap(apperr.EmptyUpload, "未上传图片", err)
	}
	return ingest.FromMultipart(fh)
}

func (a *api) result(c *gin.Context) {
	requestID := strings.TrimSpace(c.Param("id"))
	if requestID == "" {
		a.fail(c, apperr.New(apperr.MissingField, "缺少识别编号"))
		return
	}

	identity, _ := auth.IdentityFrom(c.Request.Context())
	log, err := a.recognition.GetResult(c.Request.Context(), identity.ID, requestID)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"result": gin.H{
			"request_id":         log.RequestID,
			"source":             log.Source,
			"detection_count":    log.DetectionCount,
			"primary_class":      log.PrimaryClass,
			"primary_confidence": round2(log.PrimaryConfidence),
			"details":            rawJSON(log.Details),
			"sha1_hash":          log.SHA1Hash,
			"created_at":         log.CreatedAt,
		},
	})
}

func (a *api) metrics(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c.Request.Context())
	summary, err := a.recognition.GetMetricsSummary(c.Request.Context(), identity.ID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "metrics": summary})
}
