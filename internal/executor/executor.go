// Package executor submits orders and drives them to a terminal outcome by
// polling the broker's order list.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ovais-007/KitePilot/internal/broker"
	"github.com/ovais-007/KitePilot/internal/observ"
)

// Outcome is the terminal state of one order's lifecycle as seen from the
// pipeline. TimedOut is terminal for the caller only: the order may still
// be live at the broker and needs human follow-up.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Config tunes the polling state machine.
type Config struct {
	PollInterval  time.Duration  // first poll delay, default 2s
	PollTimeout   time.Duration  // wall-clock bound, default 300s
	BackoffFactor float64        // interval growth per poll, default 1.5
	MaxInterval   time.Duration  // interval ceiling, default 5x PollInterval
	ConvertTo     broker.Product // zero value disables post-fill conversion
}

// Result describes one completed executor run.
type Result struct {
	OrderID     string
	Outcome     Outcome
	SubmittedAt time.Time
	Converted   bool
}

// Executor owns the order record for the duration of one pipeline run. The
// broker is the system of record for order history; nothing is persisted
// here beyond the journal entries the caller writes.
type Executor struct {
	broker broker.Broker
	cfg    Config
}

func New(b broker.Broker, cfg Config) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 300 * time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * cfg.PollInterval
	}
	return &Executor{broker: b, cfg: cfg}
}

// Execute submits the intent and polls until the order reaches a terminal
// broker status or the wall-clock timeout elapses. A timeout neither
// cancels nor retries the order. On a fill, an optional product conversion
// runs; its failure is logged and the fill stands.
func (e *Executor) Execute(ctx context.Context, intent broker.OrderIntent) (Result, error) {
	orderID, err := e.broker.PlaceOrder(ctx, intent)
	if err != nil {
		return Result{}, fmt.Errorf("place order: %w", err)
	}
	res := Result{OrderID: orderID, SubmittedAt: time.Now().UTC()}
	observ.Log("order_submitted", map[string]any{
		"order_id": orderID, "intent": intent.String(),
	})
	observ.IncCounter("orders_submitted_total", nil)

	outcome, err := e.poll(ctx, orderID)
	if err != nil {
		return res, err
	}
	res.Outcome = outcome
	observ.IncCounter("orders_terminal_total", map[string]string{"outcome": string(outcome)})

	if outcome == OutcomeFilled && e.cfg.ConvertTo != "" && e.cfg.ConvertTo != intent.Product {
		if err := e.broker.ConvertPosition(ctx, intent.Symbol, intent.Quantity, intent.Product, e.cfg.ConvertTo); err != nil {
			// The fill stands as-is; conversion is best-effort.
			observ.Error("position_conversion_failed", map[string]any{
				"order_id": orderID, "symbol": intent.Symbol, "error": err.Error(),
			})
		} else {
			res.Converted = true
			observ.Log("position_converted", map[string]any{
				"order_id": orderID, "symbol": intent.Symbol,
				"from": string(intent.Product), "to": string(e.cfg.ConvertTo),
			})
		}
	}
	return res, nil
}

func (e *Executor) poll(ctx context.Context, orderID string) (Outcome, error) {
	deadline := time.Now().Add(e.cfg.PollTimeout)
	interval := e.cfg.PollInterval

	for {
		if outcome, terminal := e.checkOnce(ctx, orderID); terminal {
			return outcome, nil
		}
		if time.Now().Add(interval).After(deadline) {
			observ.Warn("order_poll_timeout", map[string]any{
				"order_id": orderID, "timeout": e.cfg.PollTimeout.String(),
			})
			return OutcomeTimedOut, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * e.cfg.BackoffFactor)
		if interval > e.cfg.MaxInterval {
			interval = e.cfg.MaxInterval
		}
	}
}

// checkOnce polls the order list once. Transient poll failures and an order
// missing from the snapshot are both non-terminal.
func (e *Executor) checkOnce(ctx context.Context, orderID string) (Outcome, bool) {
	orders, err := e.broker.Orders(ctx)
	if err != nil {
		observ.Warn("order_poll_error", map[string]any{"order_id": orderID, "error": err.Error()})
		return "", false
	}
	for _, o := range orders {
		if o.OrderID != orderID {
			continue
		}
		switch o.Status {
		case broker.StatusComplete:
			return OutcomeFilled, true
		case broker.StatusRejected:
			return OutcomeRejected, true
		case broker.StatusCancelled:
			return OutcomeCancelled, true
		}
		return "", false
	}
	return "", false
}
