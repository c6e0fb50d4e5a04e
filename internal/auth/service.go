package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMaxAttempts = 3
	defaultLockWindow  = 15 * time.Minute

	bcryptCost = 10
)

var (
	// ErrUnknownUser is the unknown-username rejection. It deliberately does
	// not touch any attempt counters.
	ErrUnknownUser = errors.New("invalid username")

	ErrUsernameTaken = errors.New("username already taken")
	ErrMissingFields = errors.New("missing required fields")
	ErrWrongPassword = errors.New("invalid current password")
	ErrUserNotFound  = errors.New("user not found")
)

// LockedError rejects a login attempt against a still-locked account.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return "account is locked"
}

// RetryMinutes reports whole minutes left in the lock window, matching the
// floor arithmetic of the lock check itself.
func (e *LockedError) RetryMinutes() int {
	minutes := int(e.RetryAfter.Minutes())
	if e.RetryAfter > time.Duration(minutes)*time.Minute {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// InvalidPasswordError carries the post-increment attempt state so the
// handler can report remaining chances or the freshly applied lock.
type InvalidPasswordError struct {
	AttemptsLeft int
	Locked       bool
}

func (e *InvalidPasswordError) Error() string {
	return "invalid password"
}

// Store is the persistence surface the service needs. *Repository implements
// it against Postgres; tests implement it in memory.
type Store interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	Create(ctx context.Context, user User) error
	// WithUserForLogin runs fn against the user row under a per-user lock and
	// persists any mutation fn made, even when fn returns an error. This is
	// the serialization point for the lockout read-modify-write.
	WithUserForLogin(ctx context.Context, username string, fn func(user *User) error) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	List(ctx context.Context) ([]User, error)
	Delete(ctx context.Context, id string) error
	Upsert(ctx context.Context, user User) error
}

type Service struct {
	store       Store
	issuer      *TokenIssuer
	maxAttempts int
	lockWindow  time.Duration
	now         func() time.Time
}

func NewService(store Store, issuer *TokenIssuer) *Service {
	return &Service{
		store:       store,
		issuer:      issuer,
		maxAttempts: defaultMaxAttempts,
		lockWindow:  defaultLockWindow,
		now:         time.Now,
	}
}

func (s *Service) WithLockoutPolicy(maxAttempts int, lockWindow time.Duration) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockWindow > 0 {
		s.lockWindow = lockWindow
	}
	return s
}

func (s *Service) LockWindow() time.Duration { return s.lockWindow }

// Register creates a fresh user with zeroed lockout state.
func (s *Service) Register(ctx context.Context, username, email, password string) (PublicUser, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return PublicUser{}, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return PublicUser{}, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return PublicUser{}, err
	}

	return user.Public(), nil
}

// Login runs the lockout state machine for one attempt and, on success,
// issues a fresh token pair. The whole read-decide-write runs inside the
// store's per-user lock so concurrent attempts cannot lose counter updates.
func (s *Service) Login(ctx context.Context, username, password string) (Identity, TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, TokenPair{}, ErrUnknownUser
	}

	var identity Identity
	err := s.store.WithUserForLogin(ctx, username, func(user *User) error {
		now := s.now().UTC()

		if user.IsLocked {
			// isLocked implies lockedTime is set; a nil pointer here means
			// the invariant was broken outside this code path.
			elapsed := now.Sub(user.LockedTime.UTC())
			if elapsed < s.lockWindow {
				return &LockedError{RetryAfter: s.lockWindow - elapsed}
			}
			// Auto-unlock, then still evaluate the submitted password below.
			user.IsLocked = false
			user.LoginAttempts = 0
			user.LockedTime = nil
		}

		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			user.LoginAttempts++
			if user.LoginAttempts >= s.maxAttempts {
				user.IsLocked = true
				lockedAt := now
				user.LockedTime = &lockedAt
				return &InvalidPasswordError{Locked: true}
			}
			return &InvalidPasswordError{AttemptsLeft: s.maxAttempts - user.LoginAttempts}
		}

		user.LoginAttempts = 0
		user.IsLocked = false
		user.LockedTime = nil
		identity = Identity{Username: user.Username, Role: user.Role}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, TokenPair{}, ErrUnknownUser
		}
		return Identity{}, TokenPair{}, err
	}

	pair, err := s.issuer.IssuePair(identity)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}

	return identity, pair, nil
}

// ChangePassword verifies the current password before storing the new hash.
// Lockout counters are left untouched either way.
func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return ErrMissingFields
	}

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownUser
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrWrongPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	return s.store.UpdatePassword(ctx, username, string(hash))
}

func (s *Service) ListUsers(ctx context.Context) ([]PublicUser, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	public := make([]PublicUser, 0, len(users))
	for _, user := range users {
		public = append(public, user.Public())
	}
	return public, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}

// BootstrapAdmin seeds or refreshes the admin account from configuration.
// Both values empty means no bootstrap is wanted.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	now := s.now().UTC()
	return s.store.Upsert(ctx, User{
		ID:           id.String(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		Role:         RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}
