package model

import "errors"

// Sentinel errors for domain validation.
var (
	ErrInvalidWeight = errors.New("invalid weight")
	ErrInvalidName   = errors.New("invalid name")
)
