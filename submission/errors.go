package submission

import "github.com/formloop/formloop/ratelimit"

// Error type tags exposed to clients. Resource-state failures (form
// not found / inactive) deliberately carry no tag; see UntypedError.
const (
	TypeInvalidRequest          = "INVALID_REQUEST"
	TypeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	TypeSpamDetected            = "SPAM_DETECTED"
	TypeCaptchaRequired         = "CAPTCHA_REQUIRED"
	TypeCaptchaFailed           = "CAPTCHA_FAILED"
	TypeCaptchaNotConfigured    = "CAPTCHA_NOT_CONFIGURED"
	TypeInvalidQuestion         = "INVALID_QUESTION"
	TypeMissingRequiredQuestion = "MISSING_REQUIRED_QUESTION"
	TypeLimitExceeded           = "LIMIT_EXCEEDED"
)

// TypedError is a pipeline rejection with a machine-readable type tag.
// RateLimit is set when limiter state was computed for the request, so
// the transport layer can attach the X-RateLimit-* headers.
type TypedError struct {
	Type      string
	Message   string
	Status    int
	RateLimit *ratelimit.Result
}

func (e *TypedError) Error() string { return e.Message }

// UntypedError is a rejection whose JSON body carries only an error
// message. The split mirrors the public API contract: form-state and
// persistence failures have never exposed a type tag, and normalizing
// them would break existing clients.
type UntypedError struct {
	Message string
	Status  int
}

func (e *UntypedError) Error() string { return e.Message }
