package errors

import (
	"fmt"
	"net/http"
)

// AppError is the single error shape the HTTP layer speaks. Component
// errors are translated into one of the predefined values below before
// anything is written to a client; raw upstream text never leaves the
// process.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // original cause, for logs only
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError.
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap creates an AppError with a cause.
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// FromError converts any error into an AppError. Unknown errors become a
// generic internal error so nothing surprising is serialized.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// WithDetail returns a copy with an extra detail string. Copying keeps
// the package-level values immutable.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause returns a copy carrying the original error.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// 400, caller input.
var (
	ErrBadRequest = &AppError{
		Code:       "INVALID_REQUEST",
		Message:    "The request is missing required parameters or is malformed.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrStateMismatch covers CSRF and replay on the callback leg: the
	// returned state did not match the stored one, or the attempt was
	// already consumed.
	ErrStateMismatch = &AppError{
		Code:       "STATE_MISMATCH",
		Message:    "Authorization state is invalid or has already been used.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMissingCode = &AppError{
		Code:       "MISSING_CODE",
		Message:    "Authorization code is missing.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidRedirectURI = &AppError{
		Code:       "INVALID_REDIRECT_URI",
		Message:    "The redirect URI is not registered for this client.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// 401, authentication.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication is required.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrSessionExpired = &AppError{
		Code:       "SESSION_EXPIRED",
		Message:    "Your session has expired, please sign in again.",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrProviderRejected is the stable mapping for invalid_grant /
	// invalid_client style refusals from the identity provider.
	ErrProviderRejected = &AppError{
		Code:       "PROVIDER_REJECTED",
		Message:    "Authentication failed.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrClientAuthFailed = &AppError{
		Code:       "CLIENT_AUTH_FAILED",
		Message:    "Client authentication failed.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// 403, step-up.
var (
	// ErrStepUpRequired marks a valid primary session that still needs a
	// second factor. The gateway turns this into a redirect to the
	// step-up page rather than an error body.
	ErrStepUpRequired = &AppError{
		Code:       "STEP_UP_REQUIRED",
		Message:    "Additional verification is required.",
		HTTPStatus: http.StatusForbidden,
	}
)

// 404 / 405.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "The requested resource was not found.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "The HTTP method is not allowed for this resource.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
)

// 409 / 422.
var (
	ErrAlreadyExists = &AppError{
		Code:       "ALREADY_EXISTS",
		Message:    "The resource already exists.",
		HTTPStatus: http.StatusConflict,
	}

	ErrClientConfiguration = &AppError{
		Code:       "CLIENT_CONFIGURATION_ERROR",
		Message:    "The client is not configured for this flow.",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
)

// 429.
var (
	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many attempts. Try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// 5xx, infrastructure. Safe to retry from the caller side.
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "An internal error occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrProviderUnreachable = &AppError{
		Code:       "PROVIDER_UNREACHABLE",
		Message:    "The identity provider could not be reached. Please try again.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrMalformedProviderResponse = &AppError{
		Code:       "MALFORMED_PROVIDER_RESPONSE",
		Message:    "The identity provider returned an unexpected response. Please try again.",
		HTTPStatus: http.StatusBadGateway,
	}
)
