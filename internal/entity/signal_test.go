package entity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name    string
		signal  Signal
		wantErr string
	}{
		{
			name:   "valid buy signal",
			signal: Signal{Action: OrderSideBuy, Symbol: "BTCUSDT"},
		},
		{
			name:   "valid sell signal with quantity",
			signal: Signal{Action: OrderSideSell, Symbol: "ETHUSDT", Quantity: decimalPtr("0.5")},
		},
		{
			name:    "missing action",
			signal:  Signal{Symbol: "BTCUSDT"},
			wantErr: "signal action is required",
		},
		{
			name:    "unknown action",
			signal:  Signal{Action: "hold", Symbol: "BTCUSDT"},
			wantErr: "invalid signal action",
		},
		{
			name:    "missing symbol",
			signal:  Signal{Action: OrderSideBuy},
			wantErr: "signal symbol is required",
		},
		{
			name:    "zero quantity",
			signal:  Signal{Action: OrderSideBuy, Symbol: "BTCUSDT", Quantity: decimalPtr("0")},
			wantErr: "signal quantity must be positive",
		},
		{
			name:    "negative quantity",
			signal:  Signal{Action: OrderSideBuy, Symbol: "BTCUSDT", Quantity: decimalPtr("-1")},
			wantErr: "signal quantity must be positive",
		},
		{
			name:    "negative leverage",
			signal:  Signal{Action: OrderSideBuy, Symbol: "BTCUSDT", Leverage: -1},
			wantErr: "signal leverage must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.signal.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSignalApplyDefaults(t *testing.T) {
	signal := Signal{Action: "BUY", Symbol: " btcusdt "}
	signal.ApplyDefaults()

	assert.Equal(t, OrderSideBuy, signal.Action)
	assert.Equal(t, "BTCUSDT", signal.Symbol)
	assert.Equal(t, 1, signal.Leverage)
}

func TestSignalApplyDefaultsKeepsExplicitLeverage(t *testing.T) {
	signal := Signal{Action: OrderSideSell, Symbol: "ETHUSDT", Leverage: 10}
	signal.ApplyDefaults()

	assert.Equal(t, 10, signal.Leverage)
}

func TestOrderSideOpposite(t *testing.T) {
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
	assert.Equal(t, OrderSideBuy, OrderSideSell.Opposite())
}

func TestTradeTransitions(t *testing.T) {
	signal := &Signal{Action: OrderSideBuy, Symbol: "BTCUSDT", Leverage: 5}
	trade := NewPendingTrade(signal, decimal.RequireFromString("0.01"), []byte(`{"action":"buy"}`))

	require.Equal(t, TradeStatusPending, trade.Status)
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, 5, trade.Leverage)
	assert.True(t, trade.SignalData.Valid)

	trade.Fill("order-123", decimal.RequireFromString("50000"))
	assert.Equal(t, TradeStatusFilled, trade.Status)
	assert.Equal(t, "order-123", trade.OrderID.String)
	assert.Equal(t, "Order placed successfully", trade.Reason.String)
	require.NotNil(t, trade.EntryPrice)
	assert.True(t, trade.EntryPrice.Equal(decimal.RequireFromString("50000")))

	trade.Cancel("Cancelled by user")
	assert.Equal(t, TradeStatusCancelled, trade.Status)
	assert.Equal(t, "Cancelled by user", trade.Reason.String)
}

func TestTradeReject(t *testing.T) {
	signal := &Signal{Action: OrderSideSell, Symbol: "ETHUSDT"}
	trade := NewPendingTrade(signal, decimal.RequireFromString("1"), nil)

	trade.Reject("Auto trading is disabled")
	assert.Equal(t, TradeStatusRejected, trade.Status)
	assert.Equal(t, "Auto trading is disabled", trade.Reason.String)
	assert.False(t, trade.SignalData.Valid)
}
