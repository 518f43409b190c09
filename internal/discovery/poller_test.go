package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/gamma"
	"github.com/guzus/dr-manhattan-sub000/internal/model"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
)

type fakeLister struct {
	tags    map[string]gamma.Tag
	markets map[string][]gamma.Market // tag id -> markets
	tagErr  map[string]error
}

func (f *fakeLister) LookupTag(ctx context.Context, slug string) (gamma.Tag, error) {
	if err := f.tagErr[slug]; err != nil {
		return gamma.Tag{}, err
	}
	tag, ok := f.tags[slug]
	if !ok {
		return gamma.Tag{}, fmt.Errorf("tag %q not found", slug)
	}
	return tag, nil
}

func (f *fakeLister) SearchOpenMarkets(ctx context.Context, tagID string, keywords []string, limit int) ([]gamma.Market, error) {
	var out []gamma.Market
	for _, m := range f.markets[tagID] {
		if m.MatchesKeywords(keywords) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeFinalizer struct {
	mu    sync.Mutex
	metas []model.AssetMeta
}

func (f *fakeFinalizer) Finalize(ctx context.Context, meta model.AssetMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas = append(f.metas, meta)
}

func (f *fakeFinalizer) finalized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.metas))
	for i, m := range f.metas {
		ids[i] = m.AssetID
	}
	return ids
}

func hourlyMarket(id, question, endDate string, tokens ...string) gamma.Market {
	toks := "["
	for i, tok := range tokens {
		if i > 0 {
			toks += ","
		}
		toks += fmt.Sprintf("%q", tok)
	}
	toks += "]"
	return gamma.Market{
		ID:           id,
		ConditionID:  "cond-" + id,
		Question:     question,
		EndDate:      endDate,
		ClobTokenIDs: toks,
		Outcomes:     `["Up","Down"]`,
	}
}

func TestPollOnceWindowing(t *testing.T) {
	rule := model.MarketRule{
		Name:          "btc_hourly",
		Slug:          "bitcoin",
		Keywords:      []string{"bitcoin"},
		Rule:          "current_and_previous",
		WindowMinutes: 120,
		Prefix:        "crypto/btc",
		Freq:          "1h",
	}

	lister := &fakeLister{
		tags: map[string]gamma.Tag{"bitcoin": {ID: "21", Slug: "bitcoin"}},
		markets: map[string][]gamma.Market{
			"21": {
				hourlyMarket("m1", "Bitcoin up or down at 1pm?", "2026-01-15T13:00:00Z", "tokA1", "tokA2"),
				hourlyMarket("m2", "Bitcoin up or down at 5pm?", "2026-01-15T17:00:00Z", "tokB1", "tokB2"),
			},
		},
	}

	st := state.New(0, 0)
	fin := &fakeFinalizer{}
	p := New(Config{}, []model.MarketRule{rule}, lister, st, fin, nil)

	// t = noon: only m1 (closing 13:00) is inside the 2h window.
	p.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	p.PollOnce(context.Background())

	if n := st.DesiredCount(); n != 2 {
		t.Fatalf("DesiredCount = %d, want 2 (both outcomes of m1)", n)
	}
	meta, ok := st.Meta("tokA1")
	if !ok {
		t.Fatal("tokA1 should be tracked")
	}
	if meta.Outcome != "Up" || meta.Freq != "1h" || meta.Prefix != "crypto/btc" {
		t.Errorf("meta = %+v, want Up/1h/crypto/btc", meta)
	}
	if meta.MarketID != "cond-m1" {
		t.Errorf("MarketID = %q, want condition id preferred", meta.MarketID)
	}

	// t = 15:30: m2 enters the window; both markets are now tracked.
	p.now = func() time.Time { return time.Date(2026, 1, 15, 15, 30, 0, 0, time.UTC) }
	p.PollOnce(context.Background())

	if n := st.DesiredCount(); n != 4 {
		t.Errorf("DesiredCount = %d, want 4 after m2 enters scope", n)
	}
}

func TestPollOnceFinalizesRemoved(t *testing.T) {
	rule := model.MarketRule{Name: "btc", Slug: "bitcoin", Keywords: []string{"bitcoin"}, Prefix: "crypto/btc"}

	lister := &fakeLister{
		tags: map[string]gamma.Tag{"bitcoin": {ID: "21"}},
		markets: map[string][]gamma.Market{
			"21": {hourlyMarket("m1", "Bitcoin up or down?", "2026-01-15T13:00:00Z", "tok1", "tok2")},
		},
	}

	st := state.New(0, 0)
	fin := &fakeFinalizer{}
	p := New(Config{}, []model.MarketRule{rule}, lister, st, fin, nil)
	p.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	p.PollOnce(context.Background())
	if n := st.DesiredCount(); n != 2 {
		t.Fatalf("DesiredCount = %d, want 2", n)
	}

	// The market closes upstream and stops being listed.
	lister.markets["21"] = nil
	p.PollOnce(context.Background())

	if n := st.DesiredCount(); n != 0 {
		t.Errorf("DesiredCount = %d, want 0 after market closes", n)
	}
	got := fin.finalized()
	if len(got) != 2 {
		t.Errorf("finalized = %v, want both outcome tokens", got)
	}
}

func TestPollOnceRuleFailureKeepsInstruments(t *testing.T) {
	rule := model.MarketRule{Name: "btc", Slug: "bitcoin", Keywords: []string{"bitcoin"}, Prefix: "crypto/btc"}

	lister := &fakeLister{
		tags:   map[string]gamma.Tag{"bitcoin": {ID: "21"}},
		tagErr: map[string]error{},
		markets: map[string][]gamma.Market{
			"21": {hourlyMarket("m1", "Bitcoin up or down?", "2026-01-15T13:00:00Z", "tok1", "tok2")},
		},
	}

	st := state.New(0, 0)
	fin := &fakeFinalizer{}
	p := New(Config{}, []model.MarketRule{rule}, lister, st, fin, nil)
	p.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	p.PollOnce(context.Background())
	if n := st.DesiredCount(); n != 2 {
		t.Fatalf("DesiredCount = %d, want 2", n)
	}

	// A transient listing failure must not unsubscribe and finalize
	// still-open instruments.
	lister.tagErr["bitcoin"] = errors.New("upstream 500")
	p.PollOnce(context.Background())

	if n := st.DesiredCount(); n != 2 {
		t.Errorf("DesiredCount = %d, want 2 across a failed tick", n)
	}
	if got := fin.finalized(); len(got) != 0 {
		t.Errorf("finalized = %v, want none on a failed tick", got)
	}

	// Once the listing recovers and really stops returning the market, the
	// instruments are removed and finalized.
	delete(lister.tagErr, "bitcoin")
	lister.markets["21"] = nil
	p.PollOnce(context.Background())

	if n := st.DesiredCount(); n != 0 {
		t.Errorf("DesiredCount = %d, want 0 after a successful empty tick", n)
	}
	if got := fin.finalized(); len(got) != 2 {
		t.Errorf("finalized = %v, want both tokens after recovery", got)
	}
}

func TestPollOnceRuleErrorIsolation(t *testing.T) {
	rules := []model.MarketRule{
		{Name: "btc", Slug: "bitcoin", Keywords: []string{"bitcoin"}, Prefix: "crypto/btc"},
		{Name: "eth", Slug: "ethereum", Keywords: []string{"ethereum"}, Prefix: "crypto/eth"},
	}

	lister := &fakeLister{
		tags:   map[string]gamma.Tag{"ethereum": {ID: "22"}},
		tagErr: map[string]error{"bitcoin": errors.New("upstream 500")},
		markets: map[string][]gamma.Market{
			"22": {hourlyMarket("m1", "Ethereum up or down?", "2026-01-15T13:00:00Z", "e1", "e2")},
		},
	}

	st := state.New(0, 0)
	p := New(Config{}, rules, lister, st, &fakeFinalizer{}, nil)
	p.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	p.PollOnce(context.Background())

	// The failing bitcoin rule must not prevent ethereum from contributing.
	if n := st.DesiredCount(); n != 2 {
		t.Errorf("DesiredCount = %d, want 2 from the healthy rule", n)
	}
}

func TestPollerStartStop(t *testing.T) {
	lister := &fakeLister{tags: map[string]gamma.Tag{}}
	st := state.New(0, 0)
	p := New(Config{Interval: time.Hour}, nil, lister, st, &fakeFinalizer{}, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
