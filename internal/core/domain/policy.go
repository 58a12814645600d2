package domain

import (
	"net/http"
	"time"
)

// SitePolicy holds per-domain pacing and header configuration.
type SitePolicy struct {
	Domain         string            `yaml:"domain"          json:"domain"`
	MaxConcurrency int               `yaml:"max_concurrency" json:"max_concurrency"`
	MinDelay       time.Duration     `yaml:"min_delay"       json:"min_delay"`
	MaxDelay       time.Duration     `yaml:"max_delay"       json:"max_delay"`
	UserAgents     []string          `yaml:"user_agents"     json:"user_agents"`
	ExtraHeaders   map[string]string `yaml:"headers"         json:"headers"`
	Proxies        []string          `yaml:"proxies"         json:"proxies,omitempty"`
}

// Clone returns a deep copy so callers can never mutate registry state.
func (p SitePolicy) Clone() SitePolicy {
	out := p
	out.UserAgents = append([]string(nil), p.UserAgents...)
	out.Proxies = append([]string(nil), p.Proxies...)
	if p.ExtraHeaders != nil {
		out.ExtraHeaders = make(map[string]string, len(p.ExtraHeaders))
		for k, v := range p.ExtraHeaders {
			out.ExtraHeaders[k] = v
		}
	}
	return out
}

// UserAgent picks the n-th user agent from the pool (round robin).
func (p SitePolicy) UserAgent(n int) string {
	if len(p.UserAgents) == 0 {
		return ""
	}
	if n < 0 {
		n = -n
	}
	return p.UserAgents[n%len(p.UserAgents)]
}

// Proxy picks the n-th proxy from the pool, or "" when none is configured.
func (p SitePolicy) Proxy(n int) string {
	if len(p.Proxies) == 0 {
		return ""
	}
	if n < 0 {
		n = -n
	}
	return p.Proxies[n%len(p.Proxies)]
}

// Headers builds the request headers for a dispatch using the given user agent.
func (p SitePolicy) Headers(userAgent string) http.Header {
	h := make(http.Header, len(p.ExtraHeaders)+1)
	for k, v := range p.ExtraHeaders {
		h.Set(k, v)
	}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}
