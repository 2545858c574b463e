package store

import "errors"

var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrReplaceSelf   = errors.New("entity cannot replace itself")
)
