// Package domain defines the business logic for the prediction service.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/diapredict/internal/auth"
)

// TokenSigner issues a bearer token for the given subject username.
type TokenSigner func(subject string, ttl time.Duration) (string, error)

// AccountService handles sign-up, login and identity resolution.
type AccountService struct {
	users     UserRepository
	signToken TokenSigner
	tokenTTL  time.Duration
	now       func() time.Time
	newID     func() string
}

// NewAccountService constructs an AccountService.
func NewAccountService(users UserRepository, signer TokenSigner, tokenTTL time.Duration) *AccountService {
	return &AccountService{
		users:     users,
		signToken: signer,
		tokenTTL:  tokenTTL,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// SignupInput captures the payload from the API layer.
type SignupInput struct {
	Username    string
	Password    string
	Pregnancies int
	WeightKg    float64
	HeightM     float64
	Age         int
}

// Signup registers a new user and returns it together with a fresh token.
// Heights above 3 are interpreted as centimeters and converted before storage.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (*User, string, error) {
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, "", err
	}

	user := User{
		ID:           s.newID(),
		Username:     input.Username,
		PasswordHash: hash,
		Pregnancies:  input.Pregnancies,
		WeightKg:     input.WeightKg,
		HeightM:      NormalizeHeightM(input.HeightM),
		Age:          input.Age,
		CreatedAt:    s.now(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.signToken(user.Username, s.tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// Login authenticates by username and password and issues a token. Unknown
// usernames and wrong passwords produce the same error, and the unknown-user
// path still burns a hash comparison so the two are not timing-separable.
func (s *AccountService) Login(ctx context.Context, username, password string) (*User, string, error) {
	user, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		auth.BurnPasswordCheck(password)
		return nil, "", ErrInvalidCredentials
	}
	if !auth.VerifyPassword(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.signToken(user.Username, s.tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ResolveSubject maps a verified token subject back to a stored user.
func (s *AccountService) ResolveSubject(ctx context.Context, username string) (*User, error) {
	user, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// TokenTTL exposes the configured token lifetime.
func (s *AccountService) TokenTTL() time.Duration {
	return s.tokenTTL
}
