// Package auth resolves bearer credentials to user identities.
package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/token"
)

// Identity is the resolved user behind a valid credential.
type Identity struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
}

// IdentityFromUser projects a stored user onto an Identity.
func IdentityFromUser(u *repository.User) *Identity {
	return &Identity{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Verifier checks a credential and returns its subject id.
type Verifier interface {
	Verify(tokenString string) (string, error)
}

// UserLookup reads user records by id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*repository.User, error)
}

// Guard authorizes requests. It only reads state.
type Guard struct {
	tokens Verifier
	users  UserLookup
	logger *zap.Logger
}

func NewGuard(tokens Verifier, users UserLookup, logger *zap.Logger) *Guard {
	return &Guard{tokens: tokens, users: users, logger: logger.Named("auth_guard")}
}

// Authorize resolves the Authorization header value to an Identity.
func (g *Guard) Authorize(ctx context.Context, authorization string) (*Identity, error) {
	tokenString := ExtractToken(authorization)
	if tokenString == "" {
		return nil, apperr.New(apperr.MissingCredential, "认证令牌缺失")
	}

	subject, err := g.tokens.Verify(tokenString)
	switch {
	case errors.Is(err, token.ErrExpiredCredential):
		g.logger.Debug("expired credential")
		return nil, apperr.Wrap(apperr.ExpiredCredential, "令牌已过期", err)
	case err != nil:
		g.logger.Debug("malformed credential", zap.Error(err))
		return nil, apperr.Wrap(apperr.MalformedCredential, "无效令牌", err)
	}

	user, err := g.users.GetUserByID(ctx, subject)
	if errors.Is(err, repository.ErrNotFound) {
		g.logger.Warn("credential subject no longer exists", zap.String("user_id", subject))
		return nil, apperr.Wrap(apperr.UnknownSubject, "用户不存在", err)
	}
	if err != nil {
		g.logger.Error("user lookup failed", zap.String("user_id", subject), zap.Error(err))
		return nil, apperr.Wrap(apperr.Internal, "服务器内部错误", err)
	}
	return IdentityFromUser(user), nil
}

// ExtractToken strips an optional "Bearer " scheme from an Authorization header value.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	const scheme = "bearer"
	if strings.EqualFold(header, scheme) {
		return ""
	}
	if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) && header[len(scheme)] == ' ' {
		header = header[len(scheme)+1:]
	}
	return strings.TrimSpace(header)
}
