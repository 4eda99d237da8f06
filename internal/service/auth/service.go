package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/pkg/config"
	"github.com/stackform/portal/pkg/crypto"
	jwtpkg "github.com/stackform/portal/pkg/jwt"
	"github.com/stackform/portal/pkg/lifecycle"
)

var (
	errEmailRequired    = fmt.Errorf("%w: email required", lifecycle.ErrValidation)
	errPasswordTooShort = fmt.Errorf("%w: password must be at least 8 characters", lifecycle.ErrValidation)
	errBadCredentials   = fmt.Errorf("%w: invalid email or password", lifecycle.ErrPermission)
	errTokenRequired    = fmt.Errorf("%w: token required", lifecycle.ErrPermission)
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Signup registers a new account with the default role.
func (s Service) Signup(ctx context.Context, email, password, name string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", errEmailRequired
	}
	if len(password) < 8 {
		return nil, "", errPasswordTooShort
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, "", fmt.Errorf("%w: email already registered", lifecycle.ErrValidation)
		}
		return nil, "", err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user and returns a session token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", errBadCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", errBadCredentials
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the account plus the actor
// the lifecycle guards consume. Capabilities come from the stored role, not
// from the token, so a role change takes effect on the next request.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, lifecycle.Actor, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, lifecycle.Actor{}, errTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, lifecycle.Actor{}, fmt.Errorf("%w: %v", lifecycle.ErrPermission, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, lifecycle.Actor{}, errTokenRequired
		}
		return nil, lifecycle.Actor{}, err
	}
	actor := lifecycle.Actor{ID: user.ID, Caps: lifecycle.CapabilitiesForRole(user.Role)}
	return user, actor, nil
}

func (s Service) issueToken(user *domain.User) (string, error) {
	return jwtpkg.GenerateToken(user.ID, user.Role, s.cfg.JWTSecret, s.cfg.TokenTTL)
}
