package provider

import (
	"errors"
	"fmt"
	"time"
)

// AuthenticationError means the provider rejected the stored credential.
// It is fatal for the account.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "provider authentication failed"
	}
	return "provider authentication failed: " + e.Message
}

// TwoFactorRequiredError means the login is blocked by a challenge that needs the user.
type TwoFactorRequiredError struct {
	Message string
}

func (e *TwoFactorRequiredError) Error() string {
	if e.Message == "" {
		return "provider requires two-factor verification"
	}
	return "provider requires two-factor verification: " + e.Message
}

// RateLimitError means the provider throttled the request. It is transient.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limit (retry after %s)", e.RetryAfter)
	}
	return "provider rate limit"
}

// ProviderError is any other provider failure.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("provider error: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsTwoFactor reports whether err is a TwoFactorRequiredError.
func IsTwoFactor(err error) bool {
	var target *TwoFactorRequiredError
	return errors.As(err, &target)
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsAccountFatal reports whether err requires user action before the account can sync again.
func IsAccountFatal(err error) bool {
	return IsAuthentication(err) || IsTwoFactor(err)
}

// Kind names the taxonomy class of err, for logs, metrics and run reports.
func Kind(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return ""
	case IsAuthentication(err):
		return "authentication"
	case IsTwoFactor(err):
		return "two_factor_required"
	case IsRateLimited(err):
		return "rate_limit"
	case errors.As(err, &pe):
		return "provider"
	default:
		return "other"
	}
}
