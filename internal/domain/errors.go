package domain

import "errors"

var (
	// ErrUserExists is returned when registering with an e-mail that is
	// already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown e-mail and wrong password so
	// login failures are not distinguishable from the outside.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrValidation marks client input errors; handlers surface the wrapped
	// detail with a 400 instead of a generic server error.
	ErrValidation = errors.New("validation failed")
)
