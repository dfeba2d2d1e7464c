package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAuth(db *gorm.DB) *AuthService {
	cfg := &config.Config{}
	cfg.JWT.Secret = "unit-test-secret"
	cfg.JWT.ExpireTime = time.Hour
	return NewAuthService(repository.NewUserRepository(db), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	db := newTestDB(t)
	svc := newAuth(db)

	user, err := svc.Register(&RegisterRequest{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "heart-sounds-2026",
	})
	require.NoError(t, err)
	assert.Equal(t, model.Learner, user.Role)
	assert.NotEqual(t, "heart-sounds-2026", user.Password) // 只存哈希

	result, err := svc.Login(&LoginRequest{
		Email:    "ada@example.com",
		Password: "heart-sounds-2026",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Empty(t, result.User.Password)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	svc := newAuth(db)

	_, err := svc.Register(&RegisterRequest{
		Name: "Ada", Email: "ada@example.com", Password: "heart-sounds-2026",
	})
	require.NoError(t, err)

	_, err = svc.Register(&RegisterRequest{
		Name: "Mallory", Email: "ada@example.com", Password: "other-password",
	})
	assert.ErrorIs(t, err, util.ErrEmailRegistered)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	db := newTestDB(t)
	svc := newAuth(db)

	_, err := svc.Register(&RegisterRequest{
		Name: "Ada", Email: "ada@example.com", Password: "heart-sounds-2026",
	})
	require.NoError(t, err)

	_, err = svc.Login(&LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.True(t, util.IsValidation(err))

	// 账号不存在与密码错误同样口径，不泄露邮箱是否注册
	_, err = svc.Login(&LoginRequest{Email: "nobody@example.com", Password: "wrong"})
	assert.True(t, util.IsValidation(err))
}
