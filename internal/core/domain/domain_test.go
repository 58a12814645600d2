package domain

import (
	"testing"
)

func TestHostOf(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://X.Example/recipes/1", "x.example", false},
		{"http://y.example:8080/a?b=c", "y.example", false},
		{"/relative/path", "", true},
		{"::not a url", "", true},
		{"http://[2001:DB8::1]/", "2001:db8::1", false},
		{"https://[2001:db8::1]:8443/x", "2001:db8::1", false},
	}

	for _, tt := range tests {
		got, err := HostOf(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("HostOf(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("HostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Example.com ", "example.com"},
		{"example.com:8080", "example.com"},
		{"2001:db8::1", "2001:db8::1"},
		{"2001:DB8::2", "2001:db8::2"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[2001:db8::2]", "2001:db8::2"},
		{"127.0.0.1:9000", "127.0.0.1"},
	}

	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	// Distinct IPv6 hosts must not collapse onto a shared prefix.
	a, _ := HostOf("http://[2001:db8::1]/")
	b, _ := HostOf("http://[2001:db8::2]/")
	if NormalizeDomain(a) == NormalizeDomain(b) {
		t.Errorf("%q and %q normalize to the same domain", a, b)
	}
	if NormalizeDomain(a) != a {
		t.Errorf("NormalizeDomain(%q) = %q, want unchanged", a, NormalizeDomain(a))
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	for _, k := range AllKinds {
		want := k != KindNotFound
		if got := k.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", k, got, want)
		}
	}
	if KindNone.Retryable() {
		t.Error("KindNone should not be retryable")
	}
}

func TestSitePolicy_CloneIsDeep(t *testing.T) {
	p := SitePolicy{
		Domain:       "x.example",
		UserAgents:   []string{"a", "b"},
		ExtraHeaders: map[string]string{"Accept": "text/html"},
	}
	c := p.Clone()
	c.UserAgents[0] = "z"
	c.ExtraHeaders["Accept"] = "*/*"

	if p.UserAgents[0] != "a" {
		t.Error("clone shares user agent slice")
	}
	if p.ExtraHeaders["Accept"] != "text/html" {
		t.Error("clone shares header map")
	}
}

func TestSitePolicy_UserAgentRotation(t *testing.T) {
	p := SitePolicy{UserAgents: []string{"a", "b", "c"}}
	got := []string{p.UserAgent(0), p.UserAgent(1), p.UserAgent(2), p.UserAgent(3)}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UserAgent(%d) = %q, want %q", i, got[i], want[i])
		}
	}
	if (SitePolicy{}).UserAgent(5) != "" {
		t.Error("empty pool should yield empty user agent")
	}

	h := p.Headers("a")
	if h.Get("User-Agent") != "a" {
		t.Errorf("Headers() User-Agent = %q", h.Get("User-Agent"))
	}
}
