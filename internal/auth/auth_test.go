package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docRender/internal/database"
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privDER := x509.MarshalPKCS1PrivateKey(key)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	priv, pub := testKeys(t)
	svc, err := NewAuthService(priv, pub, time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, err := svc.GenerateAccessToken(7, "ops@example.com", true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.PublisherID != 7 || claims.Email != "ops@example.com" || !claims.MustChangePassword {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	priv, pub := testKeys(t)
	svc, err := NewAuthService(priv, pub, time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	otherPriv, otherPub := testKeys(t)
	other, err := NewAuthService(otherPriv, otherPub, time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	foreign, _ := other.GenerateAccessToken(1, "a@example.com", false)
	if _, err := svc.ValidateToken(foreign); err == nil {
		t.Fatal("token signed by another key accepted")
	}

	expired := TokenClaims{
		PublisherID: 1,
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "docrender",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	key, _ := jwt.ParseRSAPrivateKeyFromPEM(priv)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, expired).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("expired token accepted")
	}

	hmac, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("secret"))
	if _, err := svc.ValidateToken(hmac); err == nil {
		t.Fatal("HS256 token accepted")
	}
}

func TestRandomPasswordHashes(t *testing.T) {
	pw, err := GenerateRandomPassword(24)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pw) != 32 {
		t.Fatalf("password length = %d", len(pw))
	}
	hash, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPasswordHash(pw, hash) || CheckPasswordHash(pw+"x", hash) {
		t.Fatal("bcrypt check mismatch")
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEnsurePublisherAndAuthenticate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, _ := HashPassword("first-password")
	p1, err := EnsurePublisher(ctx, db, " Ops@Example.com ", first)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, _ := HashPassword("second-password")
	p2, err := EnsurePublisher(ctx, db, "ops@example.com", second)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatalf("publisher duplicated: %d vs %d", p1.ID, p2.ID)
	}

	if _, err := Authenticate(ctx, db, "OPS@example.com", "first-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	got, err := Authenticate(ctx, db, "OPS@example.com", "second-password")
	if err != nil || got.ID != p1.ID {
		t.Fatalf("authenticate = %+v, %v", got, err)
	}
	if _, err := Authenticate(ctx, db, "nobody@example.com", "second-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
}
