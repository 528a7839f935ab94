// Package pipeline turns one alert message into at most one brokerage
// order: parse, resolve, price-gate, size, execute. Every stage may
// short-circuit the run without that being an error, and no run failure may
// reach the listening process.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ovais-007/KitePilot/internal/broker"
	"github.com/ovais-007/KitePilot/internal/decision"
	"github.com/ovais-007/KitePilot/internal/executor"
	"github.com/ovais-007/KitePilot/internal/journal"
	"github.com/ovais-007/KitePilot/internal/observ"
	"github.com/ovais-007/KitePilot/internal/signal"
	"github.com/ovais-007/KitePilot/internal/symbols"
)

// Skip reasons reported on short-circuited runs.
const (
	SkipNoSignal     = "no_signal"
	SkipUnresolved   = "symbol_unresolved"
	SkipResolveError = "resolve_error"
	SkipPriceFetch   = "price_fetch_failed"
	SkipOutOfBand    = "price_out_of_band"
	SkipZeroQuantity = "zero_quantity"
	SkipSubmitFailed = "submit_failed"
	SkipDryRun       = "dry_run"
)

// Report summarizes one pipeline run for callers and tests.
type Report struct {
	RunID    string
	Parsed   bool
	Symbol   string
	Quantity int
	Skipped  string // skip reason; empty when an order ran to a terminal state
	Result   executor.Result
}

// Executed reports whether the run produced a terminal order outcome.
func (r Report) Executed() bool { return r.Parsed && r.Skipped == "" }

type Pipeline struct {
	parser   signal.Parser
	resolver *symbols.Resolver
	broker   broker.Broker
	gate     *decision.Gate
	exec     *executor.Executor
	journal  *journal.Journal

	cashBudget decimal.Decimal
	product    broker.Product
	dryRun     bool
	notify     func(text string)

	locks symbolLocks
}

type Options struct {
	Parser     signal.Parser
	Resolver   *symbols.Resolver
	Broker     broker.Broker
	Gate       *decision.Gate
	Executor   *executor.Executor
	Journal    *journal.Journal
	CashBudget decimal.Decimal
	Product    broker.Product
	DryRun     bool
	// Notify, when set, receives operator alerts for runs that need a human
	// (currently: poll timeouts with a possibly-live position).
	Notify func(text string)
}

func New(opts Options) *Pipeline {
	if opts.Product == "" {
		opts.Product = broker.ProductCNC
	}
	return &Pipeline{
		parser:     opts.Parser,
		resolver:   opts.Resolver,
		broker:     opts.Broker,
		gate:       opts.Gate,
		exec:       opts.Executor,
		journal:    opts.Journal,
		cashBudget: opts.CashBudget,
		product:    opts.Product,
		dryRun:     opts.DryRun,
		notify:     opts.Notify,
		locks:      symbolLocks{m: map[string]*sync.Mutex{}},
	}
}

// Dispatch handles one message in its own goroutine so a slow run (order
// polling, price fetch) never blocks ingestion of unrelated messages.
func (p *Pipeline) Dispatch(ctx context.Context, rawText string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				observ.Error("pipeline_panic", map[string]any{"panic": r})
			}
		}()
		p.Run(ctx, rawText)
	}()
}

// Run executes the pipeline synchronously and reports what happened.
func (p *Pipeline) Run(ctx context.Context, rawText string) Report {
	report := Report{RunID: uuid.NewString()}

	sig, ok := p.parser.Parse(rawText)
	if !ok {
		// Routine chatter; not worth a journal entry.
		report.Skipped = SkipNoSignal
		observ.IncCounter("runs_total", map[string]string{"result": SkipNoSignal})
		return report
	}
	report.Parsed = true
	p.record(report.RunID, journal.TypeSignal, map[string]any{
		"company": sig.CompanyName, "low": sig.Low.String(), "high": sig.High.String(),
		"stop_loss": sig.StopLoss.String(),
	})
	observ.Log("signal_parsed", map[string]any{
		"run": report.RunID, "company": sig.CompanyName,
		"low": sig.Low.String(), "high": sig.High.String(), "stop_loss": sig.StopLoss.String(),
	})

	sym, ok, err := p.resolver.Resolve(ctx, sig.CompanyName)
	if err != nil {
		observ.Error("symbol_resolve_error", map[string]any{
			"run": report.RunID, "company": sig.CompanyName, "error": err.Error(),
		})
		return p.skip(report, SkipResolveError, map[string]any{"company": sig.CompanyName})
	}
	if !ok {
		observ.Warn("symbol_unresolved", map[string]any{
			"run": report.RunID, "company": sig.CompanyName,
		})
		return p.skip(report, SkipUnresolved, map[string]any{"company": sig.CompanyName})
	}
	report.Symbol = sym

	// Near-simultaneous duplicate alerts for one symbol must not double-buy;
	// runs for different symbols proceed independently.
	unlock := p.locks.lock(sym)
	defer unlock()

	price, err := p.broker.LTP(ctx, sym)
	if err != nil {
		observ.Error("price_fetch_failed", map[string]any{
			"run": report.RunID, "symbol": sym, "error": err.Error(),
		})
		return p.skip(report, SkipPriceFetch, map[string]any{"symbol": sym})
	}

	if ok, reason := p.gate.Admit(price, sig.Low, sig.High); !ok {
		observ.Log("price_out_of_band", map[string]any{
			"run": report.RunID, "symbol": sym, "price": price.String(), "reason": reason,
		})
		return p.skip(report, SkipOutOfBand, map[string]any{"symbol": sym, "price": price.String(), "reason": reason})
	}

	qty := decision.Quantity(price, p.cashBudget)
	if qty == 0 {
		observ.Log("quantity_zero", map[string]any{
			"run": report.RunID, "symbol": sym, "price": price.String(),
		})
		return p.skip(report, SkipZeroQuantity, map[string]any{"symbol": sym, "price": price.String()})
	}
	report.Quantity = qty

	intent := broker.OrderIntent{
		Symbol:     sym,
		Quantity:   qty,
		LimitPrice: price,
		Product:    p.product,
	}

	if p.dryRun {
		observ.Log("dry_run_order", map[string]any{"run": report.RunID, "intent": intent.String()})
		return p.skip(report, SkipDryRun, map[string]any{"intent": intent.String()})
	}

	p.record(report.RunID, journal.TypeOrder, map[string]any{"intent": intent.String()})
	res, err := p.exec.Execute(ctx, intent)
	if err != nil {
		observ.Error("order_submit_failed", map[string]any{
			"run": report.RunID, "symbol": sym, "error": err.Error(),
		})
		return p.skip(report, SkipSubmitFailed, map[string]any{"symbol": sym})
	}
	report.Result = res

	outcomeData := map[string]any{
		"order_id": res.OrderID, "outcome": string(res.Outcome), "symbol": sym, "quantity": qty,
	}
	p.record(report.RunID, journal.TypeOutcome, outcomeData)
	if res.Converted {
		p.record(report.RunID, journal.TypeConverted, map[string]any{
			"symbol": sym, "quantity": qty, "product": string(p.product),
		})
	}
	switch res.Outcome {
	case executor.OutcomeFilled:
		observ.Log("run_filled", outcomeData)
	case executor.OutcomeTimedOut:
		// Position may be live at the broker; needs a human.
		observ.Warn("run_timed_out_manual_review", outcomeData)
		if p.notify != nil {
			p.notify(fmt.Sprintf("Order %s (%s x%d) not terminal after timeout; check manually.", res.OrderID, sym, qty))
		}
	default:
		observ.Warn("run_not_filled", outcomeData)
	}
	observ.IncCounter("runs_total", map[string]string{"result": string(res.Outcome)})
	return report
}

func (p *Pipeline) skip(report Report, reason string, data map[string]any) Report {
	report.Skipped = reason
	if report.Parsed {
		if data == nil {
			data = map[string]any{}
		}
		data["reason"] = reason
		p.record(report.RunID, journal.TypeSkip, data)
	}
	observ.IncCounter("runs_total", map[string]string{"result": reason})
	return report
}

func (p *Pipeline) record(runID, entryType string, data map[string]any) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(runID, entryType, data); err != nil {
		observ.Warn("journal_write_failed", map[string]any{"run": runID, "error": err.Error()})
	}
}

// symbolLocks serializes runs per resolved symbol.
type symbolLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *symbolLocks) lock(symbol string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.m[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.m[symbol] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
