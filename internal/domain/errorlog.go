package domain

import (
	"strings"
	"time"
)

// ErrorType is a coarse triage bucket for a failed submission attempt.
type ErrorType string

const (
	ErrorSessionExpired ErrorType = "session_expired"
	ErrorNetwork        ErrorType = "network_error"
	ErrorCaptcha        ErrorType = "captcha"
	ErrorRateLimit      ErrorType = "rate_limit"
	ErrorUnknown        ErrorType = "unknown"
)

// ErrorLog is an append-only record of a single failed submission attempt.
type ErrorLog struct {
	ID           int64     `json:"id"`
	ListingID    int64     `json:"listing_id"`
	ErrorType    ErrorType `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	Screenshot   string    `json:"screenshot,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// classifyRule maps message substrings to an error type. Order matters:
// the first rule with any matching substring wins.
type classifyRule struct {
	substrings []string
	errType    ErrorType
}

var classifyRules = []classifyRule{
	{[]string{"session", "cookie", "login"}, ErrorSessionExpired},
	{[]string{"network", "connection"}, ErrorNetwork},
	{[]string{"captcha"}, ErrorCaptcha},
	{[]string{"rate", "limit"}, ErrorRateLimit},
}

// ClassifyError buckets a free-text error message into an ErrorType.
// This is a best-effort triage heuristic over whatever message the
// automation layer produced, not a statement of root cause.
func ClassifyError(msg string) ErrorType {
	lower := strings.ToLower(msg)
	for _, rule := range classifyRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return rule.errType
			}
		}
	}
	return ErrorUnknown
}
