// Package classify maps raw fetch outcomes onto the shared failure taxonomy.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// Classify determines the failure kind for an outcome. It is total and has no
// side effects: a successful outcome yields domain.KindNone and anything it
// does not recognise yields domain.KindUnknown.
func Classify(o domain.Outcome) domain.ErrorKind {
	// Soft failures come from extraction logic; the transport call itself
	// may well have looked fine.
	switch o.Soft {
	case domain.SoftParsing:
		return domain.KindParsingError
	case domain.SoftContentChange:
		return domain.KindContentChange
	}

	if o.Err != nil {
		if k := classifyErr(o.Err); k != domain.KindUnknown || o.Status == 0 {
			return k
		}
	}

	k := classifyStatus(o.Status)
	if k == domain.KindNone && o.Err != nil {
		// A good status line followed by a transport error is not a success.
		return domain.KindUnknown
	}
	return k
}

func classifyStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit
	case status == http.StatusForbidden:
		return domain.KindBotDetection
	case status == http.StatusNotFound:
		return domain.KindNotFound
	case status == http.StatusRequestTimeout:
		return domain.KindTimeout
	case status >= 500:
		return domain.KindServerError
	case status >= 200 && status < 400:
		return domain.KindNone
	default:
		return domain.KindUnknown
	}
}

func classifyErr(err error) domain.ErrorKind {
	// Timeouts first: a dial that times out is still a timeout.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.KindTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return domain.KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return domain.KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.KindConnection
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the fallback for transports (such as the browser) that
// only surface a message.
func classifyMessage(s string) domain.ErrorKind {
	s = strings.ToLower(s)

	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit"):
		return domain.KindRateLimit
	case strings.Contains(s, "403") || strings.Contains(s, "forbidden") ||
		strings.Contains(s, "captcha") || strings.Contains(s, "access denied"):
		return domain.KindBotDetection
	case strings.Contains(s, "timeout") || strings.Contains(s, "timed out") ||
		strings.Contains(s, "aborted"):
		return domain.KindTimeout
	case strings.Contains(s, "connection refused") || strings.Contains(s, "no such host") ||
		strings.Contains(s, "connection reset") || strings.Contains(s, "err_name_not_resolved") ||
		strings.Contains(s, "err_connection"):
		return domain.KindConnection
	}
	return domain.KindUnknown
}

// Pattern builds an ErrorPattern for a failed attempt.
func Pattern(kind domain.ErrorKind, req domain.Request, d string, o domain.Outcome) domain.ErrorPattern {
	msg := http.StatusText(o.Status)
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if msg == "" {
		msg = kind.String()
	}
	return domain.ErrorPattern{
		Kind:       kind,
		HTTPStatus: o.Status,
		Message:    msg,
		Domain:     d,
		URL:        req.URL,
		UserAgent:  req.UserAgent,
	}
}
