package domain

import "time"

// User is the identity returned by the hosted auth service.
type User struct {
	ID    string
	Email string
}

// Profile is the public, user-editable part of an account.
type Profile struct {
	UserID      string
	DisplayName string
	Bio         *string
	AvatarURL   *string
	UpdatedAt   time.Time
}
