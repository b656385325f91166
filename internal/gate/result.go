// Package gate guards metered operations behind subscription and limit checks.
// Denials are values, never errors, so callers branch on Result.Success.
package gate

type Code string

const (
	CodeSubscriptionRequired Code = "SUBSCRIPTION_REQUIRED"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
	CodeInsufficientCredits  Code = "INSUFFICIENT_CREDITS"
	// CodeUnavailable reports a lookup failure; the operation is not run.
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"
)

// Result is the uniform caller-facing outcome of a guarded operation.
type Result[T any] struct {
	Success     bool   `json:"success"`
	Data        T      `json:"data,omitempty"`
	Code        Code   `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail[T any](code Code, message string) Result[T] {
	return Result[T]{Code: code, Message: message}
}

func deny[T any](code Code, message, redirect string) Result[T] {
	return Result[T]{Code: code, Message: message, RedirectURL: redirect}
}
