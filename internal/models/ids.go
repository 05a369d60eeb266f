package models

import "github.com/google/uuid"

// NewUserID mints a time-ordered UUIDv7 string for a new User.
func NewUserID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewSessionID mints a UUIDv7 string for a new Session.
func NewSessionID() string {
	return NewUserID()
}

// NewJobID mints a UUIDv4 string for a new Job, per spec.md's data model.
func NewJobID() string {
	return uuid.NewString()
}
