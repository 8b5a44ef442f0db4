package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/repository"
	"github.com/example/weaponid/internal/token"
)

type memoryUsers struct {
	byName    map[string]*repository.User
	createErr error
	getErr    error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: map[string]*repository.User{}}
}

func (m *memoryUsers) CreateUser(_ context.Context, user *repository.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byName[user.Username]; ok {
		return repository.ErrUsernameTaken
	}
	m.byName[user.Username] = user
	return nil
}

func (m *memoryUsers) GetUserByUsername(_ context.Context, username string) (*repository.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byName[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func newTestAuth(t *testing.T, users *memoryUsers) (*AuthUseCase, *token.Service) {
	t.Helper()
	tokens := token.NewService([]byte("test-secret"), time.Hour)
	return newAuthUseCase(users, tokens, zap.NewNop(), bcrypt.MinCost), tokens
}

func TestRegisterThenLogin(t *testing.T) {
	users := newMemoryUsers()
	uc, tokens := newTestAuth(t, users)

	email := "alice@example.com"
	identity, err := uc.Register(context.Background(), " alice ", "s3cret", &email)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.Len(t, identity.ID, 36)
	assert.NotEqual(t, "s3cret", users.byName["alice"].PasswordHash)

	result, err := uc.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, result.User.ID)
	assert.Equal(t, &email, result.User.Email)

	subject, err := tokens.Verify(result.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, subject)
}

func TestLoginWrongPassword(t *testing.T) {
	users := newMemoryUsers()
	uc, _ := newTestAuth(t, users)
	_, err := uc.Register(context.Background(), "alice", "right", nil)
	require.NoError(t, err)

	for _, tc := range []struct{ username, password string }{
		{"alice", "wrong"},
		{"bob", "right"},
	} {
		_, err := uc.Login(context.Background(), tc.username, tc.password)
		appErr, ok := apperr.As(err)
		require.True(t, ok, tc.username)
		assert.Equal(t, apperr.InvalidCredentials, appErr.Kind)
		assert.Equal(t, "用户名或密码错误", appErr.Message)
	}
}

func TestLoginMissingFields(t *testing.T) {
	uc, _ := newTestAuth(t, newMemoryUsers())
	_, err := uc.Login(context.Background(), "", "x")
	assert.Equal(t, apperr.MissingField, apperr.KindOf(err))
	_, err = uc.Login(context.Background(), "alice", "")
	assert.Equal(t, apperr.MissingField, apperr.KindOf(err))
}

func TestLoginStoreFailure(t *testing.T) {
	users := newMemoryUsers()
	users.getErr = errors.New("database is locked")
	uc, _ := newTestAuth(t, users)

	_, err := uc.Login(context.Background(), "alice", "x")
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestRegisterFailures(t *testing.T) {
	users := newMemoryUsers()
	uc, _ := newTestAuth(t, users)
	_, err := uc.Register(context.Background(), "alice", "pw", nil)
	require.NoError(t, err)

	_, err = uc.Register(context.Background(), "alice", "other", nil)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.UsernameTaken, appErr.Kind)
	assert.Equal(t, "用户名已存在", appErr.Message)

	_, err = uc.Register(context.Background(), "  ", "pw", nil)
	assert.Equal(t, apperr.MissingField, apperr.KindOf(err))

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	_, err = uc.Register(context.Background(), "carol", string(long), nil)
	assert.Equal(t, apperr.MissingField, apperr.KindOf(err))

	users.createErr = errors.New("disk I/O error")
	_, err = uc.Register(context.Background(), "dave", "pw", nil)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestRegisterBlankEmailIsDropped(t *testing.T) {
	users := newMemoryUsers()
	uc, _ := newTestAuth(t, users)
	blank := "  "
	identity, err := uc.Register(context.Background(), "erin", "pw", &blank)
	require.NoError(t, err)
	assert.Nil(t, identity.Email)
}
