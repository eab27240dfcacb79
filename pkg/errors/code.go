package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission errors
// 14000-14099: Tournament errors
// 17000-17999: Match resolution & activation errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission Errors (13000-13099) ==========
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	SubmissionTooLong      ErrorCode = 13002

	// ========== Tournament Errors (14000-14099) ==========
	TournamentNotFound               ErrorCode = 14000
	TournamentCreateFailed           ErrorCode = 14001
	TournamentSubmissionNotValidated ErrorCode = 14002
	InvalidSubmissionKind            ErrorCode = 14003

	// ========== Match Resolution Errors (17000-17999) ==========

	// Sandbox & evaluation (17000-17099)
	SandboxFailure       ErrorCode = 17000
	DecisionParseFailure ErrorCode = 17001

	// Scheduling (17100-17199)
	OrderingViolation    ErrorCode = 17100
	ResolutionInProgress ErrorCode = 17101

	// Activation (17200-17299)
	ActivationConflict ErrorCode = 17200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SubmissionTooLong:      "Submission code is too long",

	// Tournament
	TournamentNotFound:               "Tournament not found",
	TournamentCreateFailed:           "Failed to create tournament",
	TournamentSubmissionNotValidated: "Submission has no active testcase data",
	InvalidSubmissionKind:            "Invalid tournament submission kind",

	// Match resolution
	SandboxFailure:       "Sandbox execution failed",
	DecisionParseFailure: "Could not parse decision from program output",
	OrderingViolation:    "Round resolved before its predecessor",
	ResolutionInProgress: "Tournament resolution already in progress",
	ActivationConflict:   "Concurrent revision activation conflict",
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
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == TournamentNotFound, c == RecordNotFound:
		return 404
	case c == ResolutionInProgress, c == ActivationConflict:
		return 409
	case c == SubmissionTooLong:
		return 413
	case c == TournamentSubmissionNotValidated, c == InvalidSubmissionKind:
		return 422
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
