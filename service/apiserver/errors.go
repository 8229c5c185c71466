package apiserver

import (
	"errors"
)

// errors
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidArgumentIndex = errors.New("invalid argument index")
	ErrInvalidArgumentType  = errors.New("invalid argument type")
	ErrInvalidMethod        = errors.New("invalid method")
	ErrExistSubName         = errors.New("exist sub name")
	ErrInvalidHash          = errors.New("Invalid transaction hash")
	ErrInvalidBody          = errors.New("Invalid request body")
	ErrServerClosed         = errors.New("server closed")
)
