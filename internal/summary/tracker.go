package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// DefaultEvery is the number of learner turns between summary refreshes.
const DefaultEvery = 5

// TrackerConfig configures a [Tracker].
type TrackerConfig struct {
	SessionID  string
	Cache      *Cache
	Summariser Summariser

	// Every is the refresh interval in turns. Default: 5.
	Every int

	// OnUpdate is called with each new entry. May be nil.
	OnUpdate func(Entry)

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Tracker counts the turns of one session and refreshes its cached summary
// every Every turns. Safe for concurrent use; concurrent refreshes are
// collapsed so that at most one summarisation runs at a time.
type Tracker struct {
	cfg TrackerConfig

	mu         sync.Mutex
	turns      int
	refreshing bool
}

// NewTracker creates a Tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Every <= 0 {
		cfg.Every = DefaultEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{cfg: cfg}
}

// Turns returns the number of recorded turns.
func (t *Tracker) Turns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turns
}

// RecordTurn counts one learner turn. When the count reaches a multiple of
// Every it summarises history and stores the result, returning true. A
// failed summarisation is logged and leaves the previous entry in place.
// RecordTurn blocks for the duration of the summarisation; callers usually
// run it on its own goroutine.
func (t *Tracker) RecordTurn(ctx context.Context, history []llm.Message) bool {
	t.mu.Lock()
	t.turns++
	turns := t.turns
	due := turns%t.cfg.Every == 0 && !t.refreshing
	if due {
		t.refreshing = true
	}
	t.mu.Unlock()
	if !due {
		return false
	}
	defer func() {
		t.mu.Lock()
		t.refreshing = false
		t.mu.Unlock()
	}()

	text, err := t.cfg.Summariser.Summarise(ctx, history)
	if err != nil {
		slog.Warn("summary refresh failed", "session_id", t.cfg.SessionID, "turns", turns, "error", err)
		return false
	}
	if text == "" {
		return false
	}

	e := Entry{Summary: text, Turns: turns, UpdatedAt: t.cfg.Now()}
	t.cfg.Cache.Put(t.cfg.SessionID, e)
	slog.Debug("summary refreshed", "session_id", t.cfg.SessionID, "turns", turns)
	if t.cfg.OnUpdate != nil {
		t.cfg.OnUpdate(e)
	}
	return true
}
