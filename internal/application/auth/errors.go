package auth

import "errors"

var (
	ErrCredentialsRequired = errors.New("username and password are required")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNotAuthenticated    = errors.New("Not authenticated")
	ErrInvalidUsername     = errors.New("username must be 4-50 chars and contain only letters, numbers, _, -, .")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrEmailRequired       = errors.New("email is required")
	ErrEmailTaken          = errors.New("email already exists")
	ErrInvalidRole         = errors.New("invalid role")
	ErrUserNotFound        = errors.New("user not found")
	ErrCannotDeleteSelf    = errors.New("cannot delete yourself")
	ErrAdminRequired       = errors.New("admin role required")
	ErrPasswordMismatch    = errors.New("current password mismatch")
	ErrLastAdmin           = errors.New("at least one admin must remain")
)
