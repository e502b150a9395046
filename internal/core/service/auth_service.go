package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// AuthService registers users and issues HS256 tokens with sub and role
// claims. Passwords are stored bcrypt-hashed.
type AuthService struct {
	store    port.Store
	secret   []byte
	tokenTTL time.Duration
	clock    Clock
}

func NewAuthService(store port.Store, secret []byte, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		store:    store,
		secret:   secret,
		tokenTTL: tokenTTL,
		clock:    realClock{},
	}
}

func (s *AuthService) Register(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		existing, err := tx.Users().GetUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("check email: %w", err)
		}
		if existing != nil {
			return ErrDuplicateEmail
		}
		if err := tx.Users().InsertUser(ctx, user); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return "", nil, ErrBadCredentials
		}
		return "", nil, fmt.Errorf("read user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrBadCredentials
	}

	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, user, nil
}
