package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ovais-007/KitePilot/internal/observ"
)

// AutoSkip declines every fuzzy match and manual-entry request. With it the
// resolver only honors pre-registered mappings and exact raw symbols.
type AutoSkip struct{}

func (AutoSkip) ConfirmMatch(context.Context, string, string, float64) bool { return false }
func (AutoSkip) RequestSymbol(context.Context, string) string               { return "" }

// Notify delivers a one-line prompt to the operator (normally the Telegram
// admin chat). Failures are the implementation's problem; prompts are
// best-effort.
type Notify func(text string)

// AsyncQueue parks unresolved names instead of blocking the pipeline on a
// human. The current run is declined; the operator is prompted once per
// name and answers out of band with "/map NAME SYMBOL", which learns the
// entry so the next identical alert resolves silently.
type AsyncQueue struct {
	store  *Store
	notify Notify

	mu      sync.Mutex
	pending map[string]PendingName
}

// PendingName is one parked resolution awaiting operator input.
type PendingName struct {
	Name      string    `json:"name"`
	Candidate string    `json:"candidate,omitempty"`
	Score     float64   `json:"score,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
}

func NewAsyncQueue(store *Store, notify Notify) *AsyncQueue {
	if notify == nil {
		notify = func(string) {}
	}
	return &AsyncQueue{store: store, notify: notify, pending: map[string]PendingName{}}
}

func (q *AsyncQueue) ConfirmMatch(_ context.Context, name, candidate string, score float64) bool {
	q.park(name, candidate, score)
	return false
}

func (q *AsyncQueue) RequestSymbol(_ context.Context, name string) string {
	q.park(name, "", 0)
	return ""
}

func (q *AsyncQueue) park(name, candidate string, score float64) {
	key := Normalize(name)

	q.mu.Lock()
	_, seen := q.pending[key]
	if !seen {
		q.pending[key] = PendingName{Name: key, Candidate: candidate, Score: score, FirstSeen: time.Now().UTC()}
	}
	q.mu.Unlock()

	if seen {
		return
	}

	observ.IncCounter("resolver_parked_total", nil)
	if candidate != "" {
		q.notify(fmt.Sprintf("Unmapped name %q (closest: %s, %.0f%%). Reply: /map %s %s", key, candidate, score*100, key, candidate))
	} else {
		q.notify(fmt.Sprintf("Unmapped name %q. Reply: /map %s <SYMBOL>", key, key))
	}
}

// Approve learns a parked (or brand-new) mapping and clears it from the
// queue. Driven by the /map operator command.
func (q *AsyncQueue) Approve(name, symbol string) error {
	key := Normalize(name)
	if err := q.store.Learn(key, symbol); err != nil {
		return err
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
	observ.Log("symbol_approved", map[string]any{"name": key, "symbol": Normalize(symbol)})
	return nil
}

// Pending lists parked names, oldest first.
func (q *AsyncQueue) Pending() []PendingName {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingName, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}
