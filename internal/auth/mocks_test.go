package auth

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. A single mutex stands in for the
// per-user row lock the Postgres repository takes.
type memStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*User)}
}

func (m *memStore) GetByUsername(ctx context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return *user, nil
}

func (m *memStore) Create(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return ErrUsernameTaken
	}
	copied := user
	m.users[user.Username] = &copied
	return nil
}

func (m *memStore) WithUserForLogin(ctx context.Context, username string, fn func(user *User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[username]
	if !ok {
		return sql.ErrNoRows
	}

	working := *stored
	err := fn(&working)
	*stored = working
	return err
}

func (m *memStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *memStore) List(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, *user)
	}
	return users, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for username, user := range m.users {
		if user.ID == id {
			delete(m.users, username)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) Upsert(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[user.Username]; ok {
		existing.Email = user.Email
		existing.PasswordHash = user.PasswordHash
		existing.Role = user.Role
		existing.UpdatedAt = user.UpdatedAt
		return nil
	}
	copied := user
	m.users[user.Username] = &copied
	return nil
}

// snapshot returns a copy of the stored record for assertions.
func (m *memStore) snapshot(username string) (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// testClock is a controllable time source shared between issuer and service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
