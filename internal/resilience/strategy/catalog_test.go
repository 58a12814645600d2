package strategy

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

func noJitter() Config {
	return Config{Base: time.Second, Jitter: false}
}

func TestSelect(t *testing.T) {
	c := NewCatalog(noJitter())

	tests := []struct {
		name    string
		pattern domain.ErrorPattern
		want    string
		found   bool
	}{
		{"429 picks rate limit", domain.ErrorPattern{Kind: domain.KindRateLimit, HTTPStatus: 429}, IDRateLimit, true},
		{"403", domain.ErrorPattern{Kind: domain.KindBotDetection, HTTPStatus: 403}, IDBotDetection, true},
		{"timeout", domain.ErrorPattern{Kind: domain.KindTimeout}, IDTimeout, true},
		{"502", domain.ErrorPattern{Kind: domain.KindServerError, HTTPStatus: 502}, IDServerError, true},
		{"parsing", domain.ErrorPattern{Kind: domain.KindParsingError}, IDParsingError, true},
		{"content change", domain.ErrorPattern{Kind: domain.KindContentChange}, IDContentChange, true},
		{"connection", domain.ErrorPattern{Kind: domain.KindConnection}, IDConnection, true},
		{"unknown falls to default", domain.ErrorPattern{Kind: domain.KindUnknown}, IDDefault, true},
		{"not found has none", domain.ErrorPattern{Kind: domain.KindNotFound, HTTPStatus: 404}, "", false},
		{"success has none", domain.ErrorPattern{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := c.Select(tt.pattern)
			if ok != tt.found || s.ID != tt.want {
				t.Errorf("Select() = (%q, %v), want (%q, %v)", s.ID, ok, tt.want, tt.found)
			}
		})
	}
}

func TestSelect_PriorityBeatsSuccessRate(t *testing.T) {
	c := NewCatalog(noJitter())
	for i := 0; i < 20; i++ {
		_ = c.ReportOutcome(IDRateLimit, false, 0)
		_ = c.ReportOutcome(IDDefault, true, 0)
	}
	s, _ := c.Select(domain.ErrorPattern{Kind: domain.KindRateLimit, HTTPStatus: 429})
	if s.ID != IDRateLimit {
		t.Errorf("got %q, want rate_limit despite its low score", s.ID)
	}
}

func TestSelect_SuccessRateBreaksTies(t *testing.T) {
	trigger := Trigger{Kinds: []domain.ErrorKind{domain.KindTimeout}}
	c := NewCatalog(noJitter(),
		Strategy{ID: "a", Trigger: trigger, Priority: 5, SuccessRate: 0.5},
		Strategy{ID: "b", Trigger: trigger, Priority: 5, SuccessRate: 0.45},
	)
	p := domain.ErrorPattern{Kind: domain.KindTimeout}

	if s, _ := c.Select(p); s.ID != "a" {
		t.Fatalf("got %q, want a", s.ID)
	}
	_ = c.ReportOutcome("b", true, 0)
	if s, _ := c.Select(p); s.ID != "b" {
		t.Errorf("got %q, want b after its recovery", s.ID)
	}
}

func TestReportOutcome_ClampsSuccessRate(t *testing.T) {
	c := NewCatalog(noJitter())
	r := rand.New(rand.NewPCG(1, 2))
	ids := []string{IDRateLimit, IDBotDetection, IDTimeout, IDDefault}

	for i := 0; i < 2000; i++ {
		id := ids[r.IntN(len(ids))]
		if err := c.ReportOutcome(id, r.IntN(3) == 0, time.Second); err != nil {
			t.Fatal(err)
		}
		for _, st := range c.Strategies() {
			if st.SuccessRate < 0 || st.SuccessRate > 1 {
				t.Fatalf("%s success rate %v out of range", st.ID, st.SuccessRate)
			}
		}
	}

	if err := c.ReportOutcome("nope", true, 0); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestReportOutcome_Deltas(t *testing.T) {
	c := NewCatalog(noJitter())

	_ = c.ReportOutcome(IDRateLimit, true, 0)
	_ = c.ReportOutcome(IDRateLimit, true, 0)
	s, _ := c.Get(IDRateLimit)
	if s.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want capped 1", s.SuccessRate)
	}

	_ = c.ReportOutcome(IDTimeout, false, 0)
	s, _ = c.Get(IDTimeout)
	if diff := s.SuccessRate - 0.65; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("SuccessRate = %v, want 0.65", s.SuccessRate)
	}
}

func TestStrategies_Stats(t *testing.T) {
	c := NewCatalog(noJitter())
	c.MarkApplied(IDTimeout)
	c.MarkApplied(IDTimeout)
	_ = c.ReportOutcome(IDTimeout, true, 2*time.Second)
	_ = c.ReportOutcome(IDTimeout, true, 4*time.Second)

	stats := c.Strategies()
	if stats[0].ID != IDRateLimit {
		t.Errorf("first = %q, want highest priority", stats[0].ID)
	}
	for _, st := range stats {
		if st.ID != IDTimeout {
			continue
		}
		if st.Applications != 2 || st.Recoveries != 2 || st.AverageRecoveryTime != 3*time.Second {
			t.Errorf("timeout stats = %+v", st)
		}
		if st.LastUsedAt.IsZero() {
			t.Error("LastUsedAt not set")
		}
	}
}

func TestSelect_ReturnsCopy(t *testing.T) {
	c := NewCatalog(noJitter())
	s, _ := c.Select(domain.ErrorPattern{Kind: domain.KindRateLimit})
	s.Actions[0].Params["cap_ms"] = 1

	again, _ := c.Get(IDRateLimit)
	if again.Actions[0].Params["cap_ms"] != 300_000 {
		t.Error("caller mutated catalog state")
	}
}
