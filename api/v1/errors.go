package v1

import "errors"

var (
	ErrMagnetJSON  = errors.New("magnet is required")
	ErrContentType = errors.New("Content-Type must be application/json")
)
