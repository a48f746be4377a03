package domain

import "time"

// User is an operator account for the API and CLI.
type User struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"` // bcrypt hash
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func NewUser(username, passwordHash string) *User {
	now := time.Now()
	return &User{
		Username:  username,
		Password:  passwordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
