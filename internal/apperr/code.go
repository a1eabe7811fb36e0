package apperr

import "net/http"

// ErrorCode identifies the kind of failure an execution can end with.
type ErrorCode int

const (
	Success ErrorCode = 0

	// Request errors (1000-1099)
	InvalidRequest      ErrorCode = 1000
	NotFound            ErrorCode = 1001
	UnsupportedLanguage ErrorCode = 1002
	Busy                ErrorCode = 1003

	// Sandbox outcomes (1100-1199)
	TimeLimitExceeded       ErrorCode = 1100
	RuntimeFailure          ErrorCode = 1101
	OutputTooLarge          ErrorCode = 1102
	CompilationError        ErrorCode = 1103
	MalformedExecutorOutput ErrorCode = 1104

	// System errors (1200-1299)
	SandboxUnavailable ErrorCode = 1200
	Internal           ErrorCode = 1201
)

var errorMessages = map[ErrorCode]string{
	Success: "Success",

	InvalidRequest:      "Invalid request",
	NotFound:            "Not found",
	UnsupportedLanguage: "Unsupported language",
	Busy:                "Server is busy, please try again later",

	TimeLimitExceeded:       "Time Limit Exceeded",
	RuntimeFailure:          "Runtime Error",
	OutputTooLarge:          "Output Limit Exceeded",
	CompilationError:        "Compilation Error",
	MalformedExecutorOutput: "Malformed executor output",

	SandboxUnavailable: "Sandbox unavailable",
	Internal:           "Internal error",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the status an HTTP handler should answer with when a
// request ends in this error before any result is produced.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidRequest, UnsupportedLanguage:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Busy:
		return http.StatusTooManyRequests
	case SandboxUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sandbox reports whether the code describes an outcome of running user code
// rather than a failure of the service itself.
func (c ErrorCode) Sandbox() bool {
	return c >= 1100 && c < 1200
}
