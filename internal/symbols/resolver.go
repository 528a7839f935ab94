package symbols

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ovais-007/KitePilot/internal/observ"
)

// Approver is the human-in-the-loop side of resolution. Implementations
// decide what happens when a name is unknown: decline outright, or park it
// for asynchronous confirmation. Both calls must be non-blocking with
// respect to other pipeline runs.
type Approver interface {
	// ConfirmMatch offers a fuzzy candidate for name; true accepts it.
	ConfirmMatch(ctx context.Context, name, candidate string, score float64) bool
	// RequestSymbol asks for a manual symbol for name; empty means none.
	RequestSymbol(ctx context.Context, name string) string
}

// Resolver maps company names from alerts to trading symbols. Lookups go
// store -> universe self-map -> fuzzy match -> manual entry, stopping at
// the first hit. Every resolution past the direct store hit is learned
// (persisted) before returning, so the next identical lookup is silent.
type Resolver struct {
	store     *Store
	universe  *Universe
	approver  Approver
	threshold float64
}

func NewResolver(store *Store, universe *Universe, approver Approver, threshold float64) *Resolver {
	return &Resolver{store: store, universe: universe, approver: approver, threshold: threshold}
}

// Resolve returns the trading symbol for companyName. ok=false with a nil
// error is a routine miss (the signal is dropped); a non-nil error means an
// infrastructure failure scoped to this run.
func (r *Resolver) Resolve(ctx context.Context, companyName string) (symbol string, ok bool, err error) {
	key := Normalize(companyName)
	if key == "" {
		return "", false, nil
	}

	if sym, hit := r.store.Lookup(key); hit {
		return sym, true, nil
	}

	// The alert may carry the raw trading symbol instead of a company name.
	valid, err := r.universe.Contains(ctx, key)
	if err != nil {
		return "", false, err
	}
	if valid {
		if err := r.store.Learn(key, key); err != nil {
			return "", false, fmt.Errorf("learn self-mapped symbol: %w", err)
		}
		observ.Log("symbol_self_mapped", map[string]any{"name": key})
		return key, true, nil
	}

	if candKey, score := r.bestMatch(key); candKey != "" && score >= r.threshold {
		candSym, _ := r.store.Lookup(candKey)
		if r.approver.ConfirmMatch(ctx, key, candSym, score) {
			if err := r.store.Learn(key, candSym); err != nil {
				return "", false, fmt.Errorf("learn fuzzy match: %w", err)
			}
			observ.Log("symbol_fuzzy_learned", map[string]any{
				"name": key, "matched_key": candKey, "symbol": candSym, "score": score,
			})
			return candSym, true, nil
		}
	}

	if sym := Normalize(r.approver.RequestSymbol(ctx, key)); sym != "" {
		if err := r.store.Learn(key, sym); err != nil {
			return "", false, fmt.Errorf("learn manual symbol: %w", err)
		}
		observ.Log("symbol_manual_learned", map[string]any{"name": key, "symbol": sym})
		return sym, true, nil
	}

	return "", false, nil
}

// bestMatch scans store keys for the closest one to key; empty when the
// store has no keys at all.
func (r *Resolver) bestMatch(key string) (string, float64) {
	best := ""
	bestScore := 0.0
	for _, k := range r.store.Keys() {
		if s := similarity(key, k); s > bestScore {
			best, bestScore = k, s
		}
	}
	return best, bestScore
}

// similarity is a character-level sequence-match ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
