package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusFilled    TradeStatus = "filled"
	TradeStatusRejected  TradeStatus = "rejected"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Trade is one ledger row: every signal that passes shape validation
// produces exactly one, whatever its outcome. Rows are never deleted;
// after insert only status, reason, order id, entry price and pnl may
// change (cancellation being the main case).
type Trade struct {
	ID         int64            `db:"id" json:"id"`
	OrderID    null.String      `db:"order_id" json:"order_id"`
	Symbol     string           `db:"symbol" json:"symbol"`
	Side       OrderSide        `db:"side" json:"side"`
	Quantity   decimal.Decimal  `db:"quantity" json:"quantity"`
	Leverage   int              `db:"leverage" json:"leverage"`
	EntryPrice *decimal.Decimal `db:"entry_price" json:"entry_price"`
	StopLoss   *decimal.Decimal `db:"stop_loss" json:"stop_loss"`
	TakeProfit *decimal.Decimal `db:"take_profit" json:"take_profit"`
	Status     TradeStatus      `db:"status" json:"status"`
	Reason     null.String      `db:"reason" json:"reason"`
	Pnl        *decimal.Decimal `db:"pnl" json:"pnl"`
	SignalData null.String      `db:"signal_data" json:"signal_data"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

func (t Trade) TableName() string {
	return "trades"
}

// NewPendingTrade builds the initial ledger row for a received signal.
func NewPendingTrade(signal *Signal, quantity decimal.Decimal, rawPayload []byte) *Trade {
	now := time.Now().UTC()

	return &Trade{
		Symbol:     signal.Symbol,
		Side:       signal.Action,
		Quantity:   quantity,
		Leverage:   signal.Leverage,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Status:     TradeStatusPending,
		SignalData: null.NewString(string(rawPayload), len(rawPayload) > 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Reject moves the trade to its terminal rejected state.
func (t *Trade) Reject(reason string) {
	t.Status = TradeStatusRejected
	t.Reason = null.StringFrom(reason)
	t.UpdatedAt = time.Now().UTC()
}

// Fill marks the trade filled with the exchange-assigned order id.
func (t *Trade) Fill(orderID string, entryPrice decimal.Decimal) {
	t.Status = TradeStatusFilled
	t.OrderID = null.StringFrom(orderID)
	t.EntryPrice = &entryPrice
	t.Reason = null.StringFrom("Order placed successfully")
	t.UpdatedAt = time.Now().UTC()
}

// Cancel is only reachable from filled, via the explicit cancel operation.
func (t *Trade) Cancel(reason string) {
	t.Status = TradeStatusCancelled
	t.Reason = null.StringFrom(reason)
	t.UpdatedAt = time.Now().UTC()
}
