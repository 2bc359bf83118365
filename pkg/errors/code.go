package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Flyer lifecycle errors
const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Flyer Lifecycle Errors (12000-12999) ==========

	// Events (12000-12099)
	EventNotFound ErrorCode = 12000

	// Flyers (12100-12199)
	FlyerAttachFailed   ErrorCode = 12100
	FlyerCleanupFailed  ErrorCode = 12101
	InvalidObjectEvent  ErrorCode = 12102
	CleanupInProgress   ErrorCode = 12103
	FlyerObjectNotFound ErrorCode = 12104
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	EventNotFound:       "Event not found",
	FlyerAttachFailed:   "Failed to attach flyer to event",
	FlyerCleanupFailed:  "Flyer cleanup failed",
	InvalidObjectEvent:  "Invalid object notification",
	CleanupInProgress:   "Flyer cleanup is already running",
	FlyerObjectNotFound: "Flyer object not found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RecordNotFound, c == EventNotFound, c == FlyerObjectNotFound:
		return 404
	case c == CleanupInProgress, c == LockFailed:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == InvalidObjectEvent:
		return 400
	default:
		return 500
	}
}
