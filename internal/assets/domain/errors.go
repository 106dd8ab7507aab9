package assets

import "errors"

var (
	// ErrNotFound indicates an unknown cold cell, device or customer.
	ErrNotFound = errors.New("assets: not found")
	// ErrInvalid indicates rejected configuration input.
	ErrInvalid = errors.New("assets: invalid")
)
