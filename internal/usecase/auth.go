package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/auth"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/token"
)

// UserRepository defines the account operations needed by the auth flow.
type UserRepository interface {
	CreateUser(ctx context.Context, user *repository.User) error
	GetUserByUsername(ctx context.Context, username string) (*repository.User, error)
}

// TokenIssuer signs credentials for a subject.
type TokenIssuer interface {
	Issue(subjectID string) (token.Token, error)
}

// LoginResult is a freshly issued credential and the account it belongs to.
type LoginResult struct {
	Token token.Token
	User  *auth.Identity
}

// AuthUseCase handles registration and password login.
type AuthUseCase struct {
	users    UserRepository
	tokens   TokenIssuer
	logger   *zap.Logger
	hashCost int
	// dummyHash is compared against when the username is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// NewAuthUseCase constructs a new use case instance.
func NewAuthUseCase(users UserRepository, tokens TokenIssuer, logger *zap.Logger) *AuthUseCase {
	return newAuthUseCase(users, tokens, logger, bcrypt.DefaultCost)
}

func newAuthUseCase(users UserRepository, tokens TokenIssuer, logger *zap.Logger, cost int) *AuthUseCase {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("weaponid-placeholder"), cost)
	return &AuthUseCase{
		users:     users,
		tokens:    tokens,
		logger:    logger.Named("auth_usecase"),
		hashCost:  cost,
		dummyHash: dummy,
	}
}

// Login checks the password and issues a token.
func (uc *AuthUseCase) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.New(apperr.MissingField, "缺少必要字段")
	}

	user, err := uc.users.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(uc.dummyHash, []byte(password))
		uc.logger.Info("login rejected", zap.String("reason", "unknown user"))
		return nil, apperr.New(apperr.InvalidCredentials, "用户名或密码错误")
	case err != nil:
		return nil, apperr.Wrap(apperr.Internal, "登录失败", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		uc.logger.Info("login rejected", zap.String("reason", "wrong password"), zap.String("user_id", user.ID))
		return nil, apperr.New(apperr.InvalidCredentials, "用户名或密码错误")
	}

	tok, err := uc.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "登录失败", err)
	}
	uc.logger.Info("login succeeded", zap.String("user_id", user.ID))
	return &LoginResult{Token: tok, User: auth.IdentityFromUser(user)}, nil
}

// Register creates an account with a bcrypt-hashed password.
func (uc *AuthUseCase) Register(ctx context.Context, username, password string, email *string) (*auth.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.New(apperr.MissingField, "缺少必要字段")
	}
	if len(password) > 72 {
		return nil, apperr.New(apperr.MissingField, "密码过长")
	}
	if email != nil && strings.TrimSpace(*email) == "" {
		email = nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.hashCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "注册失败", err)
	}

	user := &repository.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Email:        email,
	}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, apperr.Wrap(apperr.UsernameTaken, "用户名已存在", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "注册失败", err)
	}

	uc.logger.Info("user registered", zap.String("user_id", user.ID))
	return auth.IdentityFromUser(user), nil
}
