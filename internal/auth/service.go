package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service authenticates users and issues access tokens.
type Service struct {
	users  UserRepository
	secret string
	ttl    time.Duration
	logger Logger
}

// NewService creates the auth service. The secret signs access tokens;
// ttl is their lifetime.
func NewService(users UserRepository, secret string, ttl time.Duration) *Service {
	return &Service{
		users:  users,
		secret: secret,
		ttl:    ttl,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Login verifies credentials and returns a signed access token together
// with the authenticated user. All failure modes collapse into
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Hash anyway so response timing does not reveal which usernames exist.
		_, _ = HashPassword(password)
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Warn("login failed", "username", username)
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateAccessToken(user, s.secret, s.ttl)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("login succeeded", "username", username, "role", user.Role)
	return token, user, nil
}

// Verify parses and validates an access token.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	return ParseToken(tokenString, s.secret)
}

// Bootstrap creates the initial admin account when no users exist yet.
// Called once at startup; a populated users table makes it a no-op.
func (s *Service) Bootstrap(ctx context.Context, username, password string) error {
	n, err := s.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return nil
	}
	if username == "" || password == "" {
		s.logger.Warn("no users exist and no bootstrap credentials configured")
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing bootstrap password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// Concurrent startup of another instance may have won the insert.
		if errors.Is(err, ErrUsernameExists) {
			return nil
		}
		return fmt.Errorf("creating bootstrap user: %w", err)
	}

	s.logger.Info("bootstrap admin created", "username", username)
	return nil
}
