package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docRender/internal/database"
)

// ErrInvalidCredentials 表示邮箱不存在或密码错误，两者不做区分。
var ErrInvalidCredentials = errors.New("invalid credentials")

// NormalizeEmail 统一邮箱大小写与空白。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate 校验发布者口令。
func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (database.Publisher, error) {
	var publisher database.Publisher
	err := db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&publisher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Publisher{}, ErrInvalidCredentials
		}
		return database.Publisher{}, fmt.Errorf("query publisher: %w", err)
	}
	if !CheckPasswordHash(password, publisher.PasswordHash) {
		return database.Publisher{}, ErrInvalidCredentials
	}
	return publisher, nil
}

// EnsurePublisher 按配置写入发布者账号；已存在时更新密码哈希。
func EnsurePublisher(ctx context.Context, db *gorm.DB, email, passwordHash string) (database.Publisher, error) {
	email = NormalizeEmail(email)
	if email == "" || strings.TrimSpace(passwordHash) == "" {
		return database.Publisher{}, errors.New("publisher email and password hash are required")
	}

	publisher := database.Publisher{Email: email, PasswordHash: passwordHash}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "updated_at"}),
	}).Create(&publisher).Error
	if err != nil {
		return database.Publisher{}, fmt.Errorf("upsert publisher: %w", err)
	}

	if err := db.WithContext(ctx).Where("email = ?", email).First(&publisher).Error; err != nil {
		return database.Publisher{}, fmt.Errorf("reload publisher: %w", err)
	}
	return publisher, nil
}
