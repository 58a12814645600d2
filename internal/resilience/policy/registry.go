// Package policy holds per-domain site policies with a default fallback.
package policy

import (
	"sort"
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// DefaultUserAgents is the small rotating pool used when no site entry exists.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Default returns the generic fallback policy: 4 concurrent requests,
// 1-3s between dispatches.
func Default() domain.SitePolicy {
	return domain.SitePolicy{
		MaxConcurrency: 4,
		MinDelay:       1 * time.Second,
		MaxDelay:       3 * time.Second,
		UserAgents:     append([]string(nil), DefaultUserAgents...),
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
		},
	}
}

// Patch is a partial policy update. Nil fields are left untouched.
type Patch struct {
	MaxConcurrency *int
	MinDelay       *time.Duration
	MaxDelay       *time.Duration
	UserAgents     []string
	ExtraHeaders   map[string]string
	Proxies        []string
}

// Registry is a read-mostly map of site policies keyed by hostname.
type Registry struct {
	mu    sync.RWMutex
	def   domain.SitePolicy
	sites map[string]domain.SitePolicy
}

// New creates a registry with the given default and explicit site entries.
func New(def domain.SitePolicy, sites ...domain.SitePolicy) *Registry {
	r := &Registry{
		def:   normalize(def, Default()),
		sites: make(map[string]domain.SitePolicy, len(sites)),
	}
	for _, s := range sites {
		d := domain.NormalizeDomain(s.Domain)
		if d == "" {
			continue
		}
		s.Domain = d
		r.sites[d] = normalize(s, r.def)
	}
	return r
}

// Get returns the policy for d, falling back to the default entry.
func (r *Registry) Get(d string) domain.SitePolicy {
	d = domain.NormalizeDomain(d)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.sites[d]; ok {
		return p.Clone()
	}
	p := r.def.Clone()
	p.Domain = d
	return p
}

// Has reports whether an explicit entry exists for d.
func (r *Registry) Has(d string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sites[domain.NormalizeDomain(d)]
	return ok
}

// Upsert applies patch to d's policy, creating an explicit entry from the
// default when none exists. Returns the resulting policy.
func (r *Registry) Upsert(d string, patch Patch) domain.SitePolicy {
	d = domain.NormalizeDomain(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.sites[d]
	if !ok {
		p = r.def.Clone()
		p.Domain = d
	}

	if patch.MaxConcurrency != nil {
		p.MaxConcurrency = *patch.MaxConcurrency
	}
	if patch.MinDelay != nil {
		p.MinDelay = *patch.MinDelay
	}
	if patch.MaxDelay != nil {
		p.MaxDelay = *patch.MaxDelay
	}
	if patch.UserAgents != nil {
		p.UserAgents = append([]string(nil), patch.UserAgents...)
	}
	if patch.Proxies != nil {
		p.Proxies = append([]string(nil), patch.Proxies...)
	}
	if patch.ExtraHeaders != nil {
		if p.ExtraHeaders == nil {
			p.ExtraHeaders = make(map[string]string, len(patch.ExtraHeaders))
		}
		for k, v := range patch.ExtraHeaders {
			p.ExtraHeaders[k] = v
		}
	}

	p = normalize(p, r.def)
	r.sites[d] = p
	return p.Clone()
}

// Tighten lowers d's concurrency cap by step (never below 1).
func (r *Registry) Tighten(d string, step int) domain.SitePolicy {
	if step <= 0 {
		step = 1
	}
	d = domain.NormalizeDomain(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.sites[d]
	if !ok {
		p = r.def.Clone()
		p.Domain = d
	}
	p.MaxConcurrency = max(p.MaxConcurrency-step, 1)
	r.sites[d] = p
	return p.Clone()
}

// Domains returns the domains with explicit entries, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sites))
	for d := range r.sites {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// normalize fills zero values from fallback and enforces min <= max.
func normalize(p, fallback domain.SitePolicy) domain.SitePolicy {
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = fallback.MaxConcurrency
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 1
	}
	if p.MinDelay < 0 {
		p.MinDelay = 0
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if len(p.UserAgents) == 0 {
		p.UserAgents = append([]string(nil), fallback.UserAgents...)
	}
	if p.ExtraHeaders == nil && fallback.ExtraHeaders != nil {
		p.ExtraHeaders = make(map[string]string, len(fallback.ExtraHeaders))
		for k, v := range fallback.ExtraHeaders {
			p.ExtraHeaders[k] = v
		}
	}
	return p
}
