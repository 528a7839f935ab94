package broker

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Conversion records one ConvertPosition call made against the Mock.
type Conversion struct {
	Symbol   string
	Quantity int
	From     Product
	To       Product
}

// Mock is a deterministic in-memory Broker for tests. Prices, order ids,
// status sequences, and failures are all scripted; every call is recorded.
type Mock struct {
	mu sync.Mutex

	Prices   map[string]decimal.Decimal
	PriceErr error

	NextOrderID string
	PlaceErr    error

	// StatusSequence is the status reported on successive Orders calls for
	// the most recently placed order. An empty string omits the order from
	// that snapshot. The last element repeats once the sequence runs out.
	StatusSequence []string
	statusIdx      int

	ConvertErr     error
	InstrumentList []string
	InstrumentsErr error

	PlacedIntents    []OrderIntent
	Conversions      []Conversion
	OrdersCalls      int
	LTPCalls         int
	InstrumentsCalls int
}

// NewMock returns a Mock with an order id preset.
func NewMock() *Mock {
	return &Mock{
		Prices:      map[string]decimal.Decimal{},
		NextOrderID: "mock-order-1",
	}
}

func (m *Mock) LTP(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LTPCalls++
	if m.PriceErr != nil {
		return decimal.Zero, m.PriceErr
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return decimal.Zero, &APIError{StatusCode: 404, ErrorType: "InputException", Message: "unknown symbol " + symbol}
	}
	return price, nil
}

func (m *Mock) PlaceOrder(_ context.Context, intent OrderIntent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.PlacedIntents = append(m.PlacedIntents, intent)
	m.statusIdx = 0
	return m.NextOrderID, nil
}

func (m *Mock) Orders(context.Context) ([]OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrdersCalls++
	if len(m.StatusSequence) == 0 {
		return nil, nil
	}
	idx := m.statusIdx
	if idx >= len(m.StatusSequence) {
		idx = len(m.StatusSequence) - 1
	} else {
		m.statusIdx++
	}
	status := m.StatusSequence[idx]
	if status == "" {
		return nil, nil
	}
	return []OrderStatus{{OrderID: m.NextOrderID, Status: status}}, nil
}

func (m *Mock) ConvertPosition(_ context.Context, symbol string, quantity int, from, to Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConvertErr != nil {
		return m.ConvertErr
	}
	m.Conversions = append(m.Conversions, Conversion{Symbol: symbol, Quantity: quantity, From: from, To: to})
	return nil
}

func (m *Mock) Instruments(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InstrumentsCalls++
	if m.InstrumentsErr != nil {
		return nil, m.InstrumentsErr
	}
	return m.InstrumentList, nil
}
