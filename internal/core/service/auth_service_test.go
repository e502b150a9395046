package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kiruthick0007/library-lending/internal/adapter/storage/memstore"
	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/core/service"
)

func TestAuth_RegisterAndLogin(t *testing.T) {
	store := memstore.New()
	secret := []byte("test-secret")
	auth := service.NewAuthService(store, secret, time.Hour)
	ctx := context.Background()

	user, err := auth.Register(ctx, "John Doe", "john@library.com", "password123", domain.RoleMember)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.PasswordHash == "password123" {
		t.Fatal("password stored in plaintext")
	}

	token, logged, err := auth.Login(ctx, "john@library.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, logged.ID)
	}

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != user.ID {
		t.Errorf("expected sub %s, got %v", user.ID, claims["sub"])
	}
	if claims["role"] != string(domain.RoleMember) {
		t.Errorf("expected role member, got %v", claims["role"])
	}
}

func TestAuth_DuplicateEmail(t *testing.T) {
	store := memstore.New()
	auth := service.NewAuthService(store, []byte("test-secret"), time.Hour)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "A", "dup@library.com", "password123", domain.RoleMember); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := auth.Register(ctx, "B", "dup@library.com", "password456", domain.RoleMember)
	if !errors.Is(err, service.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestAuth_BadCredentials(t *testing.T) {
	store := memstore.New()
	auth := service.NewAuthService(store, []byte("test-secret"), time.Hour)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "A", "a@library.com", "password123", domain.RoleMember); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := auth.Login(ctx, "a@library.com", "wrong-password"); !errors.Is(err, service.ErrBadCredentials) {
		t.Errorf("expected ErrBadCredentials for wrong password, got %v", err)
	}
	if _, _, err := auth.Login(ctx, "nobody@library.com", "password123"); !errors.Is(err, service.ErrBadCredentials) {
		t.Errorf("expected ErrBadCredentials for unknown email, got %v", err)
	}
	if _, err := auth.Register(ctx, "B", "", "password123", domain.RoleMember); !errors.Is(err, service.ErrBadCredentials) {
		t.Errorf("expected ErrBadCredentials for empty email, got %v", err)
	}
}
