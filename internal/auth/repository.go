package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Repository persists users in Postgres. It is the sole owner of the users
// table; nothing outside this type touches it.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, password_hash, role, login_attempts, is_locked, locked_time, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var lockedTime sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
		&user.LoginAttempts, &user.IsLocked, &lockedTime,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if lockedTime.Valid {
		value := lockedTime.Time.UTC()
		user.LockedTime = &value
	}
	return user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}

	return user, nil
}

func (r *Repository) Create(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, login_attempts, is_locked, locked_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, NULL, $6, $6)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// WithUserForLogin locks the user row with SELECT ... FOR UPDATE, runs fn on
// the loaded record, then writes back whatever fn changed. Two concurrent
// login attempts for the same username therefore serialize on the row lock
// and cannot lose a counter update. fn's error is returned after the commit:
// failed attempts still persist their incremented counters.
func (r *Repository) WithUserForLogin(ctx context.Context, username string, fn func(user *User) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
		FOR UPDATE
	`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock user row: %w", err)
	}

	before := user
	fnErr := fn(&user)

	if user.LoginAttempts != before.LoginAttempts ||
		user.IsLocked != before.IsLocked ||
		!equalLockedTime(user.LockedTime, before.LockedTime) {
		var lockedTime any
		if user.LockedTime != nil {
			lockedTime = user.LockedTime.UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET login_attempts = $2, is_locked = $3, locked_time = $4, updated_at = NOW()
			WHERE id = $1
		`, user.ID, user.LoginAttempts, user.IsLocked, lockedTime); err != nil {
			return fmt.Errorf("update login state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit login tx: %w", err)
	}

	return fnErr
}

func (r *Repository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) Upsert(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, login_attempts, is_locked, locked_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, NULL, $6, $6)
		ON CONFLICT (username)
		DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

// ReleaseExpiredLocks unlocks accounts whose lock window has passed, in
// batches. Login traffic already auto-unlocks on the next attempt; this keeps
// the table from accumulating stale locks for accounts nobody retries.
func (r *Repository) ReleaseExpiredLocks(ctx context.Context, lockWindow time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if lockWindow <= 0 {
		lockWindow = defaultLockWindow
	}

	cutoff := time.Now().UTC().Add(-lockWindow)

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM users
			WHERE is_locked AND locked_time < $1
			ORDER BY locked_time ASC
			LIMIT $2
		)
		UPDATE users u
		SET is_locked = FALSE, login_attempts = 0, locked_time = NULL, updated_at = NOW()
		FROM expired
		WHERE u.id = expired.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired locks rows affected: %w", err)
	}

	return affected, nil
}

func equalLockedTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
