package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when login fails. It deliberately
	// does not distinguish unknown user from wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrUsernameExists is returned when creating a user with a taken name.
	ErrUsernameExists = errors.New("auth: username already exists")

	// ErrInvalidUsername is returned for usernames outside the allowed format.
	ErrInvalidUsername = errors.New("auth: invalid username")

	// ErrWeakPassword is returned for passwords below the minimum length.
	ErrWeakPassword = errors.New("auth: password too short")

	// ErrTokenInvalid is returned for tokens that fail signature, expiry
	// or claim validation.
	ErrTokenInvalid = errors.New("auth: invalid token")
)
