package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// Kind - 실패 분류
type Kind int

const (
	KindUnknown Kind = iota
	KindBlocked
	KindEmpty
	KindTextInsteadOfImage
	KindProvider
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindEmpty:
		return "empty"
	case KindTextInsteadOfImage:
		return "text_instead_of_image"
	case KindProvider:
		return "provider"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error - 분류된 게이트웨이 실패
type Error struct {
	Kind    Kind
	Code    int    // provider HTTP/status code
	Message string // provider message or extra detail
	Reason  string // block reason
	Text    string // text returned instead of an image
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBlocked:
		if e.Reason == "" {
			return "request was blocked"
		}
		return fmt.Sprintf("request was blocked: %s", e.Reason)
	case KindEmpty:
		return "model returned an empty response"
	case KindTextInsteadOfImage:
		return fmt.Sprintf("model returned text instead of an image: %q", e.Text)
	case KindProvider:
		if e.InvalidCredential() {
			return "API key is not valid"
		}
		if e.RateLimited() {
			return "API rate limit exceeded, check your plan and billing details or try again later"
		}
		return fmt.Sprintf("API error: %s (code %d)", e.Message, e.Code)
	case KindMalformed:
		if e.Message != "" {
			return e.Message
		}
		return "response was valid but contained no image"
	default:
		if e.Err != nil {
			return fmt.Sprintf("unknown error: %v", e.Err)
		}
		return "unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidCredential - 400 + "API key not valid"
func (e *Error) InvalidCredential() bool {
	return e.Kind == KindProvider && e.Code == 400 && strings.Contains(e.Message, "API key not valid")
}

// RateLimited - 429 또는 rate limit/quota 메시지
func (e *Error) RateLimited() bool {
	return e.Kind == KindProvider && (e.Code == 429 || isRateLimitMessage(e.Message))
}

// KindOf - err 체인에서 Kind 추출 (분류 안 된 에러는 KindUnknown)
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

func IsRateLimited(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.RateLimited()
}

func IsInvalidCredential(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.InvalidCredential()
}

// isRateLimitMessage - 429 Rate Limit 패턴 체크
func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "resource_exhausted")
}
