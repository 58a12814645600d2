package strategy

import "github.com/vietddude/crawlguard/internal/core/domain"

// Strategy IDs of the built-in catalog.
const (
	IDRateLimit     = "rate_limit"
	IDBotDetection  = "bot_detection"
	IDTimeout       = "timeout"
	IDServerError   = "server_error"
	IDParsingError  = "parsing_error"
	IDContentChange = "content_change"
	IDConnection    = "connection"
	IDDefault       = "default"
)

// Seeds returns the built-in catalog. not_found has no strategy on purpose.
func Seeds() []Strategy {
	return []Strategy{
		{
			ID:       IDRateLimit,
			Name:     "Rate limit backoff",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindRateLimit}, StatusCodes: []int{429}},
			Priority: 10, SuccessRate: 0.8,
			Actions: []Action{
				{Kind: ActionExponentialBackoff, Params: map[string]float64{"cap_ms": 300_000}},
				{Kind: ActionJitter},
			},
		},
		{
			ID:       IDBotDetection,
			Name:     "Identity rotation",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindBotDetection}, StatusCodes: []int{403}},
			Priority: 9, SuccessRate: 0.6,
			Actions: []Action{
				{Kind: ActionRotateUserAgent},
				{Kind: ActionRotateProxy},
				{Kind: ActionDelayMultiplier, Params: map[string]float64{"factor": 3}},
				{Kind: ActionJitter},
			},
		},
		{
			ID:       IDTimeout,
			Name:     "Slow down",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindTimeout}},
			Priority: 7, SuccessRate: 0.7,
			Actions: []Action{
				{Kind: ActionDelayMultiplier, Params: map[string]float64{"factor": 2}},
				{Kind: ActionReduceConcurrency, Params: map[string]float64{"step": 1}},
			},
		},
		{
			ID:       IDServerError,
			Name:     "Server error retry",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindServerError}},
			Priority: 6, SuccessRate: 0.6,
			Actions: []Action{
				{Kind: ActionDelayMultiplier, Params: map[string]float64{"factor": 1.5}},
				{Kind: ActionFallbackTransport},
				{Kind: ActionJitter},
			},
		},
		{
			ID:       IDParsingError,
			Name:     "Alternate extraction",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindParsingError}},
			Priority: 5, SuccessRate: 0.5,
			Actions: []Action{
				{Kind: ActionAlternateExtraction},
				{Kind: ActionRotateUserAgent},
				{Kind: ActionRetryLimit, Params: map[string]float64{"max": 1}},
			},
		},
		{
			ID:       IDContentChange,
			Name:     "Alternate selectors",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindContentChange}},
			Priority: 4, SuccessRate: 0.4,
			Actions: []Action{
				{Kind: ActionAlternateSelectors},
				{Kind: ActionRetryLimit, Params: map[string]float64{"max": 2}},
			},
		},
		{
			ID:       IDConnection,
			Name:     "Connection backoff",
			Trigger:  Trigger{Kinds: []domain.ErrorKind{domain.KindConnection}},
			Priority: 3, SuccessRate: 0.6,
			Actions: []Action{
				{Kind: ActionExponentialBackoff, Params: map[string]float64{"cap_ms": 60_000}},
				{Kind: ActionJitter},
			},
		},
		{
			ID:       IDDefault,
			Name:     "Plain retry",
			Trigger:  Trigger{AnyRetryable: true},
			Priority: 0, SuccessRate: 0.5,
			Actions: []Action{
				{Kind: ActionDelayMultiplier, Params: map[string]float64{"factor": 1}},
				{Kind: ActionJitter},
			},
		},
	}
}
