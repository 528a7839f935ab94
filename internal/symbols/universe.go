package symbols

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// InstrumentLister is the slice of the broker this package needs: the full
// instrument dump for one exchange.
type InstrumentLister interface {
	Instruments(ctx context.Context, exchange string) ([]string, error)
}

// Universe memoizes the set of valid trading symbols for one exchange so
// raw symbols typed directly into alerts can be recognized. The memo is
// filled on first use and refreshed on demand; concurrent refreshes are
// collapsed into a single broker call.
type Universe struct {
	lister   InstrumentLister
	exchange string

	mu      sync.RWMutex
	symbols map[string]struct{}
	loaded  bool

	sf singleflight.Group
}

func NewUniverse(lister InstrumentLister, exchange string) *Universe {
	return &Universe{
		lister:   lister,
		exchange: exchange,
		symbols:  map[string]struct{}{},
	}
}

// Contains reports whether symbol is a valid trading symbol, loading the
// instrument dump first if the memo is empty.
func (u *Universe) Contains(ctx context.Context, symbol string) (bool, error) {
	key := Normalize(symbol)

	u.mu.RLock()
	loaded := u.loaded
	if loaded {
		_, ok := u.symbols[key]
		u.mu.RUnlock()
		return ok, nil
	}
	u.mu.RUnlock()

	if err := u.Refresh(ctx); err != nil {
		return false, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.symbols[key]
	return ok, nil
}

// Refresh reloads the instrument set from the broker. Concurrent callers
// share one in-flight request.
func (u *Universe) Refresh(ctx context.Context) error {
	_, err, _ := u.sf.Do("refresh", func() (any, error) {
		instruments, err := u.lister.Instruments(ctx, u.exchange)
		if err != nil {
			return nil, fmt.Errorf("refresh instrument universe: %w", err)
		}
		set := make(map[string]struct{}, len(instruments))
		for _, sym := range instruments {
			set[Normalize(sym)] = struct{}{}
		}
		u.mu.Lock()
		u.symbols = set
		u.loaded = true
		u.mu.Unlock()
		return nil, nil
	})
	return err
}

// Size reports the number of known symbols; zero before the first load.
func (u *Universe) Size() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.symbols)
}
