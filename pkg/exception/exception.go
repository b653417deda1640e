package exception

import "errors"

// Lookup errors
var (
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrEmptySymbolSet  = errors.New("empty symbol set")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Boundary errors
var (
	ErrServiceUnavailable = errors.New("matching service unavailable")
	ErrRejectedOrder      = errors.New("order rejected by matching service")
	ErrMalformedPayload   = errors.New("malformed payload")
)

// Configuration and lifecycle errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrRunnerState   = errors.New("invalid runner state transition")
)
