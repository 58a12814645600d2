package domain

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// HostOf returns the lower-cased hostname of rawURL, the unit of pacing
// and blacklisting.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", rawURL)
	}
	return host, nil
}

// NormalizeDomain lower-cases a domain and strips a port if present.
// Bare IPv6 literals are kept whole; bracketed ones lose their brackets.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if h, _, err := net.SplitHostPort(d); err == nil {
		return h
	}
	if strings.HasPrefix(d, "[") && strings.HasSuffix(d, "]") {
		return d[1 : len(d)-1]
	}
	return d
}
