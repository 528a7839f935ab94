package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ovais-007/KitePilot/internal/broker"
	"github.com/ovais-007/KitePilot/internal/decision"
	"github.com/ovais-007/KitePilot/internal/executor"
	"github.com/ovais-007/KitePilot/internal/journal"
	"github.com/ovais-007/KitePilot/internal/signal"
	"github.com/ovais-007/KitePilot/internal/symbols"
)

const alertText = "Buying Reliance Industries 2400-2450 looks good here. Stop Loss 2350"

type fixture struct {
	pipeline *Pipeline
	mock     *broker.Mock
	store    *symbols.Store
	journal  *journal.Journal
}

func newFixture(t *testing.T, seed map[string]string, mutate func(*Options)) fixture {
	t.Helper()

	mock := broker.NewMock()
	mock.Prices["RELIANCE"] = decimal.RequireFromString("2420")
	mock.StatusSequence = []string{"OPEN", broker.StatusComplete}

	store, err := symbols.Open(filepath.Join(t.TempDir(), "map.json"))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range seed {
		if err := store.Learn(k, v); err != nil {
			t.Fatal(err)
		}
	}

	jr, err := journal.Open(filepath.Join(t.TempDir(), "journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	gate, err := decision.NewGate(decision.PolicyCeiling, decimal.RequireFromString("1"))
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{
		Parser:   signal.NewRegexParser(),
		Resolver: symbols.NewResolver(store, symbols.NewUniverse(mock, "NSE"), symbols.AutoSkip{}, 0.75),
		Broker:   mock,
		Gate:     gate,
		Executor: executor.New(mock, executor.Config{
			PollInterval: time.Millisecond,
			PollTimeout:  100 * time.Millisecond,
			MaxInterval:  2 * time.Millisecond,
			ConvertTo:    broker.ProductMTF,
		}),
		Journal:    jr,
		CashBudget: decimal.RequireFromString("30000"),
		Product:    broker.ProductCNC,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return fixture{pipeline: New(opts), mock: mock, store: store, journal: jr}
}

func seedReliance() map[string]string {
	return map[string]string{"RELIANCE INDUSTRIES": "RELIANCE"}
}

// Scenario A: mapped name, price in band, order fills within the timeout.
func TestRun_HappyPathFills(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)

	report := f.pipeline.Run(context.Background(), alertText)

	if !report.Executed() {
		t.Fatalf("run skipped: %q", report.Skipped)
	}
	if report.Symbol != "RELIANCE" {
		t.Errorf("symbol: %q", report.Symbol)
	}
	if report.Quantity != 12 { // floor(30000 / 2420)
		t.Errorf("quantity: %d", report.Quantity)
	}
	if report.Result.Outcome != executor.OutcomeFilled {
		t.Errorf("outcome: %s", report.Result.Outcome)
	}
	if len(f.mock.PlacedIntents) != 1 {
		t.Fatalf("placed %d orders", len(f.mock.PlacedIntents))
	}
	intent := f.mock.PlacedIntents[0]
	if !intent.LimitPrice.Equal(decimal.RequireFromString("2420")) {
		t.Errorf("limit price: %s", intent.LimitPrice)
	}
	if intent.Product != broker.ProductCNC {
		t.Errorf("product: %s", intent.Product)
	}
	if len(f.mock.Conversions) != 1 {
		t.Errorf("fill should convert CNC->MTF, got %v", f.mock.Conversions)
	}

	entries, err := f.journal.Read()
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range entries {
		types = append(types, e.Type)
	}
	want := []string{journal.TypeSignal, journal.TypeOrder, journal.TypeOutcome, journal.TypeConverted}
	if len(types) != len(want) {
		t.Fatalf("journal types: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("journal types: %v, want %v", types, want)
		}
	}
}

// Scenario B: broker rejects the order immediately; no conversion.
func TestRun_BrokerRejection(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)
	f.mock.StatusSequence = []string{broker.StatusRejected}

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Result.Outcome != executor.OutcomeRejected {
		t.Fatalf("outcome: %s", report.Result.Outcome)
	}
	if len(f.mock.Conversions) != 0 {
		t.Fatal("rejected run must not convert")
	}
}

// Scenario C: no terminal status before the timeout; no cancel, no retry,
// and the operator gets an alert to follow up manually.
func TestRun_PollTimeout(t *testing.T) {
	var alerts []string
	f := newFixture(t, seedReliance(), func(o *Options) {
		o.Notify = func(text string) { alerts = append(alerts, text) }
	})
	f.mock.StatusSequence = []string{"OPEN"}

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Result.Outcome != executor.OutcomeTimedOut {
		t.Fatalf("outcome: %s", report.Result.Outcome)
	}
	if len(f.mock.PlacedIntents) != 1 {
		t.Fatal("timeout must not resubmit")
	}
	if len(f.mock.Conversions) != 0 {
		t.Fatal("timeout must not convert")
	}
	if len(alerts) != 1 || !strings.Contains(alerts[0], "RELIANCE") {
		t.Fatalf("operator alerts: %v", alerts)
	}
}

// Scenario D: unmapped, unfuzzy-matchable name with no manual entry; the
// run ends before any broker call.
func TestRun_UnresolvedSymbolSkipsBeforeBroker(t *testing.T) {
	f := newFixture(t, nil, nil) // empty store, AutoSkip approver

	report := f.pipeline.Run(context.Background(), "Buying Obscure Widgets 100-110 SL 95")

	if report.Executed() {
		t.Fatal("run should have skipped")
	}
	if report.Skipped != SkipUnresolved {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
	if f.mock.LTPCalls != 0 || len(f.mock.PlacedIntents) != 0 {
		t.Fatal("no price or order calls expected")
	}
}

func TestRun_ChatterIsRoutine(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)

	report := f.pipeline.Run(context.Background(), "markets closed tomorrow")

	if report.Parsed || report.Skipped != SkipNoSignal {
		t.Fatalf("report: %+v", report)
	}
	entries, _ := f.journal.Read()
	if len(entries) != 0 {
		t.Fatal("chatter must not be journaled")
	}
}

func TestRun_PriceFetchFailureAbortsRunOnly(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)
	f.mock.PriceErr = errors.New("exchange session expired")

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Skipped != SkipPriceFetch {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
	if len(f.mock.PlacedIntents) != 0 {
		t.Fatal("no order after a failed price fetch")
	}
}

func TestRun_PriceOutOfBandSkips(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)
	f.mock.Prices["RELIANCE"] = decimal.RequireFromString("2475") // ceiling is 2474.5

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Skipped != SkipOutOfBand {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
	if len(f.mock.PlacedIntents) != 0 {
		t.Fatal("out-of-band run must not order")
	}
}

func TestRun_ZeroQuantitySkips(t *testing.T) {
	f := newFixture(t, seedReliance(), func(o *Options) {
		o.CashBudget = decimal.RequireFromString("1000") // below the share price
	})

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Skipped != SkipZeroQuantity {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
	if len(f.mock.PlacedIntents) != 0 {
		t.Fatal("zero quantity must not order")
	}
}

func TestRun_DryRunStopsBeforeSubmission(t *testing.T) {
	f := newFixture(t, seedReliance(), func(o *Options) { o.DryRun = true })

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Skipped != SkipDryRun {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
	if report.Quantity != 12 {
		t.Errorf("dry run should still size: %d", report.Quantity)
	}
	if len(f.mock.PlacedIntents) != 0 {
		t.Fatal("dry run must not order")
	}
}

func TestRun_SubmitFailureIsRunScoped(t *testing.T) {
	f := newFixture(t, seedReliance(), nil)
	f.mock.PlaceErr = errors.New("insufficient funds")

	report := f.pipeline.Run(context.Background(), alertText)

	if report.Skipped != SkipSubmitFailed {
		t.Fatalf("skip reason: %q", report.Skipped)
	}
}

func TestSymbolLocks_SerializeSameSymbolOnly(t *testing.T) {
	locks := symbolLocks{m: map[string]*sync.Mutex{}}

	unlockA := locks.lock("RELIANCE")

	otherDone := make(chan struct{})
	go func() {
		unlock := locks.lock("TATAMOTORS")
		unlock()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("different symbols must not block each other")
	}

	sameDone := make(chan struct{})
	go func() {
		unlock := locks.lock("RELIANCE")
		unlock()
		close(sameDone)
	}()
	select {
	case <-sameDone:
		t.Fatal("same symbol acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	select {
	case <-sameDone:
	case <-time.After(time.Second):
		t.Fatal("lock not released to waiter")
	}
}
