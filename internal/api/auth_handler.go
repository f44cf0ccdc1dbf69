package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docRender/internal/api/middleware"
	"docRender/internal/auth"
	"docRender/internal/database"
)

// TokenIssuer 签发发布者访问令牌。
type TokenIssuer interface {
	GenerateAccessToken(publisherID uint, email string, mustChangePassword bool) (string, error)
	AccessTokenTTL() time.Duration
}

// LoginLimits 控制登录限流与锁定。
type LoginLimits struct {
	RatePerHour   int
	LockThreshold int
	LockTTL       time.Duration
}

// AuthHandler 处理发布者登录与改密。
type AuthHandler struct {
	db     *gorm.DB
	tokens TokenIssuer
	redis  LoginGuardStore
	logger *slog.Logger
	limits LoginLimits
	now    func() time.Time
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, tokens TokenIssuer, redisClient LoginGuardStore, logger *slog.Logger, limits LoginLimits) *AuthHandler {
	if limits.RatePerHour <= 0 {
		limits.RatePerHour = 10
	}
	if limits.LockThreshold <= 0 {
		limits.LockThreshold = 5
	}
	if limits.LockTTL <= 0 {
		limits.LockTTL = 15 * time.Minute
	}
	return &AuthHandler{
		db:     db,
		tokens: tokens,
		redis:  redisClient,
		logger: logger,
		limits: limits,
		now:    time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login 校验口令并返回访问令牌。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := auth.NormalizeEmail(req.Email)
	logger := loggerFromContext(c, h.logger).With(slog.String("email", email))

	// 速率限制：每 IP+邮箱 每小时 N 次；Redis 不可用时放行
	count, err := incrWithTTL(ctx, h.redis, loginRateKey(c.ClientIP(), email, h.now()), time.Hour)
	if err != nil {
		logger.Warn("login rate counter unavailable", slog.Any("error", err))
		count = 0
	}
	if count > int64(h.limits.RatePerHour) {
		TooManyRequests(c, "rate limit exceeded")
		return
	}

	if ttl, _ := h.redis.TTL(ctx, loginLockKey(email)).Result(); ttl > 0 {
		TooManyRequests(c, "account temporarily locked")
		return
	}

	publisher, err := auth.Authenticate(ctx, h.db, email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Info("login failed: invalid credentials")
			h.recordLoginFailure(ctx, email)
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	_ = h.redis.Del(ctx, loginFailKey(email)).Err()

	logger.Info("publisher logged in", slog.Uint64("publisher_id", uint64(publisher.ID)))
	h.replyWithToken(c, logger, publisher.ID, publisher.Email, publisher.MustChangePassword)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,min=8,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,min=8,max=72"`
}

// ChangePassword 校验当前密码并更新为新密码，返回不再带改密标记的新令牌。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}

	publisherID, ok := middleware.PublisherIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("publisher_id", uint64(publisherID)))

	var publisher database.Publisher
	if err := h.db.WithContext(ctx).First(&publisher, publisherID).Error; err != nil {
		logger.Info("change password: publisher not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !auth.CheckPasswordHash(req.CurrentPassword, publisher.PasswordHash) {
		logger.Info("change password: current password mismatch")
		Unauthorized(c)
		return
	}
	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		BadRequest(c, "new password must be different from current password")
		return
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.db.WithContext(ctx).Model(&publisher).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("publisher password changed")
	h.replyWithToken(c, logger, publisher.ID, publisher.Email, false)
}

func (h *AuthHandler) replyWithToken(c *gin.Context, logger *slog.Logger, publisherID uint, email string, mustChangePassword bool) {
	token, err := h.tokens.GenerateAccessToken(publisherID, email, mustChangePassword)
	if err != nil {
		logger.Error("generate access token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        token,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.tokens.AccessTokenTTL().Seconds()),
		MustChangePassword: mustChangePassword,
	})
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, email string) {
	count, err := incrWithTTL(ctx, h.redis, loginFailKey(email), h.limits.LockTTL)
	if err != nil {
		return
	}
	if count >= int64(h.limits.LockThreshold) {
		_ = h.redis.Set(ctx, loginLockKey(email), "1", h.limits.LockTTL).Err()
	}
}

func loggerFromContext(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil && logger != slog.Default() {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
