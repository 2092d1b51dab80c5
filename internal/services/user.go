package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/libris-hq/apiserver/internal/auth"
	"github.com/libris-hq/apiserver/internal/metrics"
	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/store"
	"github.com/libris-hq/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, id int, role string) error
}

// RegisterInput is the data required to create an account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	ExpiresIn time.Duration
	User      types.User
}

// UserService encapsulates registration, login and role management.
type UserService struct {
	repo      UserRepository
	hasher    auth.PasswordHasher
	tokens    *auth.TokenService
	publisher Publisher
	logger    *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(repo UserRepository, hasher auth.PasswordHasher, tokens *auth.TokenService, publisher Publisher, logger *slog.Logger) *UserService {
	return &UserService{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger,
	}
}

// Register creates a user with the default role. No token is issued.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (user types.User, err error) {
	defer func() {
		metrics.AuthAttempts.WithLabelValues("register", metrics.Outcome(err, IsClientError)).Inc()
	}()

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.Password == "" {
		return types.User{}, validationError("firstName, lastName, email and password are required")
	}
	if utf8.RuneCountInString(in.Password) < auth.MinPasswordLength {
		return types.User{}, validationError(fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return types.User{}, validationError(fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err = s.repo.Create(ctx, types.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Role:         types.RoleUser,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies the credentials and issues a session token. An unknown
// email and a wrong password produce the same error.
func (s *UserService) Login(ctx context.Context, email, password string) (result LoginResult, err error) {
	defer func() {
		metrics.AuthAttempts.WithLabelValues("login", metrics.Outcome(err, IsClientError)).Inc()
	}()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResult{}, validationError("email and password are required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.burnComparison(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("compare password: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	return LoginResult{
		Token:     token,
		ExpiresIn: s.tokens.TTL(),
		User:      user,
	}, nil
}

// burnComparison spends the same bcrypt work as a real comparison so the
// unknown-email path is not distinguishable by timing.
func (s *UserService) burnComparison(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("libris-placeholder-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

// UpdateRole grants role to the user. Only the admin role can be granted.
func (s *UserService) UpdateRole(ctx context.Context, id int, role string) (err error) {
	defer func() {
		metrics.AuthAttempts.WithLabelValues("update_role", metrics.Outcome(err, IsClientError)).Inc()
	}()

	if role != types.RoleAdmin {
		return ErrRoleNotFound
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.IsAdmin() {
		return ErrAlreadyGranted
	}

	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update role: %w", err)
	}

	s.logger.InfoContext(ctx, "role granted", "user_id", id, "role", role)
	publishEvent(ctx, s.publisher, s.logger, mq.ChannelAuthEvents, mq.Event{
		Type:   mq.EventRoleGranted,
		UserID: id,
		Role:   role,
	})
	return nil
}

// GetUser returns the user with the given id.
func (s *UserService) GetUser(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
