package model

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrMultipleRows           = errors.New("multiple rows returned")
	ErrDuplicate              = errors.New("duplicate row")
	ErrAuthenticationRequired = errors.New("user not authenticated")
)
