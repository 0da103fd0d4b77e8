package guarddto

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags a DomainError so callers can branch without type hierarchies.
type Kind string

const (
	KindPolicyViolation   Kind = "policy_violation"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindTokenInvalid      Kind = "token_invalid"
	KindUnavailable       Kind = "unavailable"
)

// Policy violation codes.
const (
	CodeInvalidName      = "invalid_name"
	CodeSelfPlay         = "self_play"
	CodePairLimit        = "pair_limit"
	CodeIPBanned         = "ip_banned"
	CodePlayerBanned     = "player_banned"
	CodeBadDuration      = "bad_duration"
	CodeBadRounds        = "bad_rounds"
	CodeBadResult        = "bad_result"
	CodeSuspiciousPacing = "suspicious_pacing"
	CodeRatingFrozen     = "rating_frozen"
	CodeRatingSwing      = "rating_swing"
	CodeUnknownAction    = "unknown_action"
	CodeInvalidArgs      = "invalid_args"
)

// Token rejection codes.
const (
	CodeTokenMalformed = "malformed"
	CodeTokenExpired   = "expired"
	CodeTokenMismatch  = "mismatch"
	CodeTokenMissing   = "missing"
)

type DomainError struct {
	Kind       Kind
	Code       string
	Message    string
	Limit      string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "safeguard error"
}

func (e *DomainError) Unwrap() error { return e.Err }

// Policy builds a static, non-retryable rejection.
func Policy(code, message string) *DomainError {
	return &DomainError{Kind: KindPolicyViolation, Code: code, Message: message}
}

// RateLimited reports an exhausted quota; limit names the window that tripped.
func RateLimited(limit string, retryAfter time.Duration) *DomainError {
	msg := fmt.Sprintf("rate limit exceeded: %s", limit)
	if retryAfter > 0 {
		msg = fmt.Sprintf("%s (retry in %s)", msg, retryAfter.Round(time.Second))
	}
	return &DomainError{
		Kind:       KindRateLimitExceeded,
		Code:       "rate_limited",
		Message:    msg,
		Limit:      limit,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func TokenInvalid(code string, cause error) *DomainError {
	return &DomainError{Kind: KindTokenInvalid, Code: code, Message: "invalid match token: " + code, Err: cause}
}

func Unavailable(op string, cause error) *DomainError {
	return &DomainError{
		Kind:      KindUnavailable,
		Code:      "backend_error",
		Message:   fmt.Sprintf("%s: safeguard backend unavailable", op),
		Retryable: true,
		Err:       cause,
	}
}

// KindOf returns the kind of err, or "" when err is not a DomainError.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// CodeOf returns the violation code of err, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
