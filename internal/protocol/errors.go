package protocol

import "errors"

var (
	ErrMalformed       = errors.New("protocol: malformed message")
	ErrLineTooLong     = errors.New("protocol: line too long")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrInvalidVerb     = errors.New("protocol: invalid verb")
)
