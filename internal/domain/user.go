package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Session is the token-bearing result of a successful sign-in.
// AccessToken is empty when the backend still requires email confirmation.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

func (s Session) Active() bool {
	return s.AccessToken != ""
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// UserUpdate carries the profile fields to change; empty fields are left as they are.
type UserUpdate struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}
