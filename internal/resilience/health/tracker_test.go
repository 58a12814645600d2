package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/crawlguard/internal/core/clock/clocktest"
	"github.com/vietddude/crawlguard/internal/core/domain"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fail(d string, kind domain.ErrorKind) domain.ErrorPattern {
	return domain.ErrorPattern{Kind: kind, Domain: d, URL: "https://" + d + "/", Message: kind.String()}
}

func newTestTracker(cfg Config) (*Tracker, *clocktest.Clock) {
	clk := clocktest.New(epoch)
	return NewTracker(cfg, clk), clk
}

func TestRecordFailure_BlacklistsAfterConsecutiveFailures(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())

	flips := 0
	for i := 0; i < 15; i++ {
		clk.Advance(time.Second)
		if tr.RecordFailure(fail("y.example", domain.KindServerError)) == Blacklisted {
			flips++
			if i != 9 {
				t.Errorf("flipped on failure %d, want 10th", i+1)
			}
		}
		if i < 9 && tr.IsBlacklisted("y.example") {
			t.Fatalf("blacklisted after only %d failures", i+1)
		}
	}
	if flips != 1 {
		t.Errorf("flipped %d times, want exactly once", flips)
	}
	if !tr.IsBlacklisted("y.example") {
		t.Fatal("expected blacklisted")
	}

	if got := tr.RecordSuccess("y.example", 0); got != Unblacklisted {
		t.Errorf("RecordSuccess transition = %v, want unblacklisted", got)
	}
	if tr.IsBlacklisted("y.example") {
		t.Error("success did not clear blacklist")
	}
	if got := tr.ConsecutiveFailures("y.example"); got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got)
	}
}

func TestRecordFailure_SuccessBreaksStreak(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())

	for i := 0; i < 9; i++ {
		clk.Advance(time.Second)
		tr.RecordFailure(fail("a.example", domain.KindTimeout))
	}
	tr.RecordSuccess("a.example", 0)
	for i := 0; i < 9; i++ {
		clk.Advance(time.Second)
		tr.RecordFailure(fail("a.example", domain.KindTimeout))
	}
	if tr.IsBlacklisted("a.example") {
		t.Error("blacklisted although no run of 10 consecutive failures")
	}
}

func TestRecordFailure_BotDetectionDensity(t *testing.T) {
	tests := []struct {
		name   string
		others int
		bots   int
		want   bool
	}{
		{"five bots only", 0, 5, true},
		{"four bots", 0, 4, false},
		{"five of six is 83%", 1, 5, true},
		{"five of seven is 71%", 2, 5, false},
		{"eight of ten is exactly 80%", 2, 8, false},
		{"nine of ten", 1, 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConsecutiveFailureThreshold = 100 // isolate the density rule
			tr, clk := newTestTracker(cfg)

			for i := 0; i < tt.others; i++ {
				clk.Advance(time.Second)
				tr.RecordFailure(fail("b.example", domain.KindUnknown))
			}
			for i := 0; i < tt.bots; i++ {
				clk.Advance(time.Second)
				tr.RecordFailure(fail("b.example", domain.KindBotDetection))
			}
			if got := tr.IsBlacklisted("b.example"); got != tt.want {
				t.Errorf("IsBlacklisted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBlacklisted_ExpiresWithWindow(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())
	for i := 0; i < 10; i++ {
		tr.RecordFailure(fail("w.example", domain.KindTimeout))
	}
	if !tr.IsBlacklisted("w.example") {
		t.Fatal("expected blacklisted")
	}
	clk.Advance(25 * time.Hour)
	if tr.IsBlacklisted("w.example") {
		t.Error("blacklist outlived its window")
	}
}

func TestClearBlacklist(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())
	for i := 0; i < 10; i++ {
		tr.RecordFailure(fail("c.example", domain.KindRateLimit))
	}
	if !tr.ClearBlacklist("c.example") {
		t.Fatal("ClearBlacklist reported not blacklisted")
	}
	if tr.IsBlacklisted("c.example") {
		t.Fatal("still blacklisted after clear")
	}

	clk.Advance(time.Second)
	if got := tr.RecordFailure(fail("c.example", domain.KindRateLimit)); got != Unchanged {
		t.Errorf("single failure after clear re-tripped: %v", got)
	}
	if tr.ClearBlacklist("unknown.example") {
		t.Error("clearing an unknown domain reported true")
	}
}

func TestPermanentBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PermanentBlockThreshold = 20
	tr, clk := newTestTracker(cfg)

	var got []Transition
	for i := 0; i < 20; i++ {
		clk.Advance(time.Second)
		if tn := tr.RecordFailure(fail("p.example", domain.KindServerError)); tn != Unchanged {
			got = append(got, tn)
		}
	}
	if len(got) != 2 || got[0] != Blacklisted || got[1] != PermanentlyBlocked {
		t.Fatalf("transitions = %v", got)
	}

	tr.RecordSuccess("p.example", 0)
	if !tr.IsBlacklisted("p.example") {
		t.Error("success lifted a permanent block")
	}
	clk.Advance(48 * time.Hour)
	if !tr.IsBlacklisted("p.example") {
		t.Error("permanent block expired with the window")
	}
	tr.ClearBlacklist("p.example")
	if tr.IsBlacklisted("p.example") {
		t.Error("ClearBlacklist did not lift permanent block")
	}
}

func TestHistoryBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 50
	tr, clk := newTestTracker(cfg)

	for i := 0; i < 120; i++ {
		clk.Advance(time.Minute)
		tr.RecordFailure(fail("h.example", domain.KindUnknown))
	}
	h, ok := tr.Snapshot("h.example")
	if !ok {
		t.Fatal("no snapshot")
	}
	if len(h.ErrorHistory) != 50 {
		t.Fatalf("history length = %d, want 50", len(h.ErrorHistory))
	}
	if want := epoch.Add(71 * time.Minute); !h.ErrorHistory[0].ObservedAt.Equal(want) {
		t.Errorf("oldest entry at %v, want %v", h.ErrorHistory[0].ObservedAt, want)
	}

	clk.Advance(8 * 24 * time.Hour)
	tr.RecordFailure(fail("h.example", domain.KindUnknown))
	h, _ = tr.Snapshot("h.example")
	if len(h.ErrorHistory) != 1 {
		t.Errorf("aged entries kept: %d", len(h.ErrorHistory))
	}
}

func TestSweep_DropsEmptyDomains(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())

	tr.RecordFailure(fail("old.example", domain.KindTimeout))
	tr.RecordSuccess("fresh.example", 0)
	clk.Advance(8 * 24 * time.Hour)
	tr.RecordFailure(fail("recent.example", domain.KindTimeout))

	if n := tr.Sweep(); n != 2 {
		t.Errorf("Sweep dropped %d, want 2", n)
	}
	if got := tr.Domains(); len(got) != 1 || got[0] != "recent.example" {
		t.Errorf("Domains = %v", got)
	}
}

func TestAnalysis(t *testing.T) {
	tr, clk := newTestTracker(DefaultConfig())
	for i := 0; i < 6; i++ {
		clk.Advance(time.Second)
		tr.RecordFailure(fail("an.example", domain.KindRateLimit))
	}
	clk.Advance(time.Second)
	tr.RecordFailure(fail("an.example", domain.KindTimeout))
	tr.RecordSuccess("an.example", 200*time.Millisecond)

	a := tr.Analysis("an.example")
	if a.ErrorsInWindow != 7 || a.Breakdown[domain.KindRateLimit] != 6 {
		t.Errorf("unexpected analysis %+v", a)
	}
	if a.AverageLatency != 200*time.Millisecond {
		t.Errorf("AverageLatency = %v", a.AverageLatency)
	}
	if len(a.RecommendedActions) != 1 || a.RecommendedActions[0] != recommendations[domain.KindRateLimit] {
		t.Errorf("RecommendedActions = %v", a.RecommendedActions)
	}

	if empty := tr.Analysis("none.example"); empty.TotalErrors != 0 || len(tr.Domains()) != 1 {
		t.Error("Analysis created a record for an unknown domain")
	}
}

func TestTracker_ConcurrentDomains(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := fmt.Sprintf("d%d.example", i%4)
			for j := 0; j < 50; j++ {
				tr.RecordFailure(fail(d, domain.KindServerError))
				_ = tr.IsBlacklisted(d)
				_ = tr.Analysis(d)
			}
		}(i)
	}
	wg.Wait()

	for _, d := range tr.Domains() {
		if !tr.IsBlacklisted(d) {
			t.Errorf("%s not blacklisted after 250 failures", d)
		}
	}
}

func TestSweep_RemovedRecordIsNotWrittenTo(t *testing.T) {
	tr, _ := newTestTracker(DefaultConfig())
	stale := tr.record("gone.example", true)

	if n := tr.Sweep(); n != 1 {
		t.Fatalf("Sweep dropped %d, want 1", n)
	}
	if !stale.dead {
		t.Fatal("swept record not marked dead")
	}

	tr.RecordFailure(fail("gone.example", domain.KindTimeout))
	h, ok := tr.Snapshot("gone.example")
	if !ok || len(h.ErrorHistory) != 1 || h.ConsecutiveFailures != 1 {
		t.Errorf("failure lost to a swept record: ok=%v health=%+v", ok, h)
	}
	if len(stale.h.ErrorHistory) != 0 {
		t.Error("failure written to the swept record")
	}

	tr.Reset("gone.example")
	if _, ok := tr.Snapshot("gone.example"); ok {
		t.Error("Reset kept the record")
	}
}

func TestSweep_ConcurrentWithRecording(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)

	stop := make(chan struct{})
	swept := make(chan struct{})
	go func() {
		defer close(swept)
		for {
			select {
			case <-stop:
				return
			default:
				tr.Sweep()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.RecordFailure(fail(fmt.Sprintf("s%d.example", i), domain.KindServerError))
		}(i)
	}
	wg.Wait()
	close(stop)
	<-swept

	for i := 0; i < 200; i++ {
		d := fmt.Sprintf("s%d.example", i)
		if n := tr.ConsecutiveFailures(d); n != 1 {
			t.Errorf("%s: ConsecutiveFailures = %d, want 1", d, n)
		}
	}
}
