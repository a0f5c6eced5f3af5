package auth

import "errors"

var (
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrUnknownRole      = errors.New("auth: unknown role")
)
