package model

import "fmt"

// APIError is the unified error format returned to API clients.
// It carries the cause category and the action the user can take.
type APIError struct {
	Code     string // error code
	Message  string // error message
	Category string // one of: auth, validation, account, suggestion, provider, system
	Action   string // what the user can do about it
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Predefined error codes.
const (
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeDuplicateAccount     = "DUPLICATE_ACCOUNT"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeTwoFactorRequired    = "TWO_FACTOR_REQUIRED"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeSuggestionNotFound   = "SUGGESTION_NOT_FOUND"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeSendFailed           = "SEND_FAILED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeSyncInProgress       = "SYNC_IN_PROGRESS"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewAccountNotFoundError builds the error for an unknown account id.
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("account not found: %s", accountID),
		Category: "account",
		Action:   "Check the account id.",
	}
}

// NewDuplicateAccountError builds the error for connecting the same username twice.
func NewDuplicateAccountError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  fmt.Sprintf("account %q is already connected", username),
		Category: "account",
		Action:   "Use the existing account or delete it first.",
	}
}

// NewInvalidCredentialsError builds the error for a rejected provider login.
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "the provider rejected the username or password",
		Category: "auth",
		Action:   "Check the credentials and try again.",
	}
}

// NewTwoFactorRequiredError builds the error for a login blocked by a challenge.
func NewTwoFactorRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorRequired,
		Message:  "the provider requires two-factor verification for this login",
		Category: "auth",
		Action:   "Complete the verification in the official app, then reconnect the account.",
	}
}

// NewConversationNotFoundError builds the error for an unknown or foreign conversation.
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("conversation not found: %s", conversationID),
		Category: "account",
		Action:   "Check the conversation id.",
	}
}

// NewSuggestionNotFoundError builds the error for an unknown suggestion id.
func NewSuggestionNotFoundError(suggestionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSuggestionNotFound,
		Message:  fmt.Sprintf("suggestion not found: %s", suggestionID),
		Category: "suggestion",
		Action:   "Check the suggestion id.",
	}
}

// NewForbiddenError builds the error for acting on another user's data.
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "the resource belongs to another user",
		Category: "auth",
		Action:   "Only the account owner can perform this action.",
	}
}

// NewInvalidTransitionError builds the error for approving or rejecting a settled suggestion.
func NewInvalidTransitionError(current SuggestionStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("suggestion is already %s", current),
		Category: "suggestion",
		Action:   "Only pending suggestions can be approved or rejected.",
	}
}

// NewSendFailedError builds the error for a provider send that did not go through.
func NewSendFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSendFailed,
		Message:  fmt.Sprintf("failed to send the message: %s", reason),
		Category: "provider",
		Action:   "The suggestion is still pending. Try again later.",
	}
}

// NewInvalidRequestError builds a validation error.
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Fix the request and try again.",
	}
}

// NewProviderUnavailableError builds the error for a provider that could not be reached.
func NewProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("the messaging provider is unavailable: %s", reason),
		Category: "provider",
		Action:   "Wait a while and try again.",
	}
}

// NewUnauthorizedError builds the error for a missing or invalid bearer token.
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "authentication required",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewRateLimitExceededError builds the error for a client over its request budget.
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "too many requests",
		Category: "system",
		Action:   "Wait and retry after the time given in Retry-After.",
	}
}

// NewSyncInProgressError builds the error for a sync requested while one is running.
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "a sync is already running",
		Category: "system",
		Action:   "Wait for the current sync to finish.",
	}
}

// NewInternalError builds the generic error shown for unexpected failures.
// Details go to the log only.
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "an internal error occurred",
		Category: "system",
		Action:   "Try again later.",
	}
}

// PersistenceError wraps a store failure raised while reconciling an account.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WrapPersistence wraps err as a PersistenceError. A nil err stays nil.
func WrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
