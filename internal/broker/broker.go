// Package broker abstracts the brokerage API the pipeline trades through.
package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Product is the brokerage product an order settles into.
type Product string

const (
	// ProductCNC is a fully cash-settled delivery position.
	ProductCNC Product = "CNC"
	// ProductMTF is a margin-funded position.
	ProductMTF Product = "MTF"
)

// OrderIntent is a fully specified buy order, consumed exactly once.
type OrderIntent struct {
	Symbol     string
	Quantity   int
	LimitPrice decimal.Decimal // zero means a market order
	Product    Product
}

// Market reports whether the intent is a market order.
func (i OrderIntent) Market() bool { return i.LimitPrice.IsZero() }

func (i OrderIntent) String() string {
	mode := "LIMIT@" + i.LimitPrice.String()
	if i.Market() {
		mode = "MARKET"
	}
	return fmt.Sprintf("BUY %s x%d %s %s", i.Symbol, i.Quantity, mode, i.Product)
}

// Broker-reported order statuses the executor treats as terminal.
const (
	StatusComplete  = "COMPLETE"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// OrderStatus is one row of the broker's open-and-recent order list.
type OrderStatus struct {
	OrderID string
	Status  string
}

// Broker is the brokerage collaborator: live prices, order submission and
// tracking, product conversion, and the exchange instrument dump.
type Broker interface {
	// LTP returns the last traded price for an exchange trading symbol.
	LTP(ctx context.Context, symbol string) (decimal.Decimal, error)
	// PlaceOrder submits the intent and returns the broker-assigned id.
	PlaceOrder(ctx context.Context, intent OrderIntent) (string, error)
	// Orders lists open and recent orders with their current statuses.
	Orders(ctx context.Context) ([]OrderStatus, error)
	// ConvertPosition moves a filled position between products.
	ConvertPosition(ctx context.Context, symbol string, quantity int, from, to Product) error
	// Instruments returns every tradable symbol on the exchange.
	Instruments(ctx context.Context, exchange string) ([]string, error)
}
