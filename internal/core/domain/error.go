package domain

import "time"

// ErrorKind is the closed failure taxonomy shared by every resilience component.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindRateLimit     ErrorKind = "rate_limit"
	KindBotDetection  ErrorKind = "bot_detection"
	KindNotFound      ErrorKind = "not_found"
	KindServerError   ErrorKind = "server_error"
	KindTimeout       ErrorKind = "timeout"
	KindConnection    ErrorKind = "connection"
	KindParsingError  ErrorKind = "parsing_error"
	KindContentChange ErrorKind = "content_change"
	KindUnknown       ErrorKind = "unknown"
)

// AllKinds lists every failure kind in a stable order (for reports and metrics).
var AllKinds = []ErrorKind{
	KindRateLimit,
	KindBotDetection,
	KindNotFound,
	KindServerError,
	KindTimeout,
	KindConnection,
	KindParsingError,
	KindContentChange,
	KindUnknown,
}

// IsFailure reports whether k names a failure (anything but KindNone).
func (k ErrorKind) IsFailure() bool {
	return k != KindNone
}

// Retryable reports whether a failure of this kind may be retried.
// not_found is a permanent per-URL failure.
func (k ErrorKind) Retryable() bool {
	return k.IsFailure() && k != KindNotFound
}

// IsBotSignal reports whether the kind counts toward bot-detection density.
func (k ErrorKind) IsBotSignal() bool {
	return k == KindBotDetection
}

func (k ErrorKind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// ErrorPattern is a classified record of one failed fetch attempt.
// It is treated as immutable once recorded.
type ErrorPattern struct {
	Kind       ErrorKind     `json:"kind"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Message    string        `json:"message"`
	Domain     string        `json:"domain"`
	URL        string        `json:"url"`
	ObservedAt time.Time     `json:"observed_at"`
	UserAgent  string        `json:"user_agent,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // parsed Retry-After hint, 0 if absent
}
