package service

// Error represents a domain error with a stable code and message.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

// NewError creates a new error.
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}

var (
	// ErrUnknownStrategy, ErrInvalidLimit and ErrInvalidWindow mark caller
	// bugs. They are the only errors Check returns to the caller directly.
	ErrUnknownStrategy = NewError("unknown_strategy", "unknown rate limit strategy")
	ErrInvalidLimit    = NewError("invalid_limit", "limit must be greater than zero")
	ErrInvalidWindow   = NewError("invalid_window", "window must be greater than zero")

	// ErrStoreUnavailable wraps store failures. It never reaches the caller
	// raw; the facade converts it into a fallback CheckResult.
	ErrStoreUnavailable = NewError("store_unavailable", "store unavailable")
)
