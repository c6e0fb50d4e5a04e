package auth

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	Role          string
	LoginAttempts int
	IsLocked      bool
	LockedTime    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity is the claim payload carried by both token classes.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// PublicUser is the external shape of a user record. The password hash
// never leaves the auth package.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
