package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that closes a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Exchange is the trading boundary of the system. Implementations convert
// every transport or upstream failure into an error value carrying the
// upstream message verbatim; nothing panics past this interface and the
// orchestrator never sees exchange-specific wire types.
type Exchange interface {
	CheckConnection(ctx context.Context) error
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	// GetInstrumentRules never fails: on any upstream error it returns
	// conservative defaults so order flow degrades instead of stopping.
	GetInstrumentRules(ctx context.Context, symbol string) InstrumentRules
	AdjustQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) decimal.Decimal
	AdjustPrice(ctx context.Context, symbol string, price decimal.Decimal) decimal.Decimal
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// InstrumentRules are the per-symbol quantity and price granularity
// constraints imposed by the exchange.
type InstrumentRules struct {
	MinOrderQty decimal.Decimal `json:"min_order_qty"`
	MaxOrderQty decimal.Decimal `json:"max_order_qty"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
}

type AccountInfo struct {
	Balance          decimal.Decimal `json:"balance"`
	Equity           decimal.Decimal `json:"equity"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

// Position is derived entirely from live exchange state; it is never
// persisted.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	Leverage      decimal.Decimal `json:"leverage"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Pnl           decimal.Decimal `json:"pnl"`
	PnlPercentage decimal.Decimal `json:"pnl_percentage"`
}

type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	Leverage   int
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// OrderResult reports a successful placement. Price is the price echoed
// by the order endpoint, when the exchange reports one; market orders
// usually fill at a price only the position endpoint knows.
type OrderResult struct {
	OrderID     string
	OrderLinkID string
	Quantity    decimal.Decimal
	Price       *decimal.Decimal
}
