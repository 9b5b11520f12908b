package auth

import "time"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type Account struct {
	ID           string
	Identity     string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the verified caller attached to the request context.
type Principal struct {
	AccountID string
	Identity  string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

type PublicUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
}

func (a Account) Public() PublicUser {
	return PublicUser{ID: a.ID, Name: a.Name, Identity: a.Identity, Role: a.Role}
}

type LoginResult struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      PublicUser `json:"user"`
}
