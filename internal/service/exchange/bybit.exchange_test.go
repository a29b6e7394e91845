package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalbridge/signal-bridge/internal/config"
	"github.com/signalbridge/signal-bridge/internal/entity"
)

type fakeBybit struct {
	mux *http.ServeMux

	leverageCalls   int
	leverageRetCode int
	orderCalls      int
	orderRetCode    int
	orderRetMsg     string
	orderPrice      string
	lastOrderBody   map[string]any
}

func newFakeBybit() *fakeBybit {
	f := &fakeBybit{
		mux:        http.NewServeMux(),
		orderPrice: "",
	}

	f.mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 0, "OK", map[string]any{
			"category": "linear",
			"list": []map[string]any{
				{
					"symbol": r.URL.Query().Get("symbol"),
					"lotSizeFilter": map[string]any{
						"minOrderQty": "0.001",
						"maxOrderQty": "100",
						"qtyStep":     "0.001",
					},
					"priceFilter": map[string]any{
						"tickSize": "0.5",
						"minPrice": "0.5",
						"maxPrice": "999999",
					},
				},
			},
		})
	})

	f.mux.HandleFunc("/v5/account/wallet-balance", func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 0, "OK", map[string]any{
			"list": []map[string]any{
				{
					"accountType":           "UNIFIED",
					"totalEquity":           "1250.5",
					"totalAvailableBalance": "800.25",
					"coin": []map[string]any{
						{"coin": "USDT", "walletBalance": "1000.75"},
					},
				},
			},
		})
	})

	f.mux.HandleFunc("/v5/position/set-leverage", func(w http.ResponseWriter, r *http.Request) {
		f.leverageCalls++
		if f.leverageRetCode != 0 {
			writeBybit(w, f.leverageRetCode, "leverage error", nil)
			return
		}
		writeBybit(w, 0, "OK", map[string]any{})
	})

	f.mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		f.orderCalls++

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.lastOrderBody)

		if f.orderRetCode != 0 {
			writeBybit(w, f.orderRetCode, f.orderRetMsg, nil)
			return
		}
		writeBybit(w, 0, "OK", map[string]any{
			"orderId":     "order-123",
			"orderLinkId": "link-123",
			"price":       f.orderPrice,
		})
	})

	f.mux.HandleFunc("/v5/position/list", func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 0, "OK", map[string]any{
			"category": "linear",
			"list": []map[string]any{
				{
					"symbol":        "BTCUSDT",
					"side":          "Buy",
					"size":          "0.01",
					"avgPrice":      "50000",
					"markPrice":     "51000",
					"leverage":      "10",
					"positionValue": "500",
					"unrealisedPnl": "10",
				},
				{
					"symbol":        "ETHUSDT",
					"side":          "Sell",
					"size":          "0",
					"avgPrice":      "3000",
					"markPrice":     "3000",
					"leverage":      "5",
					"positionValue": "0",
					"unrealisedPnl": "0",
				},
			},
		})
	})

	f.mux.HandleFunc("/v5/order/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 0, "OK", map[string]any{"orderId": "order-123"})
	})

	return f
}

func writeBybit(w http.ResponseWriter, retCode int, retMsg string, result any) {
	resp := map[string]any{
		"retCode": retCode,
		"retMsg":  retMsg,
		"time":    1700000000000,
	}
	if result != nil {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestExchange(t *testing.T, fake *fakeBybit) *BybitExchange {
	t.Helper()

	server := httptest.NewServer(fake.mux)
	t.Cleanup(server.Close)

	return NewBybitExchange(config.ExchangeConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})
}

func TestAdjustQuantity(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "floors to step", in: "0.0017", want: "0.001"},
		{name: "exact multiple unchanged", in: "0.01", want: "0.01"},
		{name: "below min clamps up", in: "0.0001", want: "0.001"},
		{name: "above max clamps down", in: "500", want: "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.AdjustQuantity(ctx, "BTCUSDT", decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestAdjustQuantityIdempotent(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)
	ctx := context.Background()

	once := client.AdjustQuantity(ctx, "BTCUSDT", decimal.RequireFromString("0.0157"))
	twice := client.AdjustQuantity(ctx, "BTCUSDT", once)
	assert.True(t, once.Equal(twice))
}

func TestAdjustPrice(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "rounds down to tick", in: "50000.2", want: "50000"},
		{name: "rounds half up", in: "50000.25", want: "50000.5"},
		{name: "exact tick unchanged", in: "50000.5", want: "50000.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.AdjustPrice(ctx, "BTCUSDT", decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestInstrumentRulesDefaultsOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewBybitExchange(config.ExchangeConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})

	rules := client.GetInstrumentRules(context.Background(), "BTCUSDT")
	assert.True(t, rules.QtyStep.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, rules.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, rules.MaxOrderQty.Equal(decimal.NewFromInt(10000)))
}

func TestInstrumentRulesCached(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeBybit(w, 0, "OK", map[string]any{
			"list": []map[string]any{
				{
					"symbol": "BTCUSDT",
					"lotSizeFilter": map[string]any{
						"minOrderQty": "0.001",
						"maxOrderQty": "100",
						"qtyStep":     "0.001",
					},
					"priceFilter": map[string]any{
						"tickSize": "0.5",
					},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewBybitExchange(config.ExchangeConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})

	ctx := context.Background()
	client.GetInstrumentRules(ctx, "BTCUSDT")
	client.GetInstrumentRules(ctx, "btcusdt")
	client.GetInstrumentRules(ctx, " BTCUSDT ")

	assert.Equal(t, 1, calls)
}

func TestSetLeverageNotModifiedIsSuccess(t *testing.T) {
	fake := newFakeBybit()
	fake.leverageRetCode = entity.BybitErrLeverageNotModified
	client := newTestExchange(t, fake)

	err := client.SetLeverage(context.Background(), "BTCUSDT", 10)
	assert.NoError(t, err)
}

func TestSetLeverageOtherErrorFails(t *testing.T) {
	fake := newFakeBybit()
	fake.leverageRetCode = 10001
	client := newTestExchange(t, fake)

	err := client.SetLeverage(context.Background(), "BTCUSDT", 10)
	assert.Error(t, err)
}

func TestPlaceOrderNormalizesQuantity(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)

	stopLoss := decimal.RequireFromString("49000.3")
	result, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Symbol:   "btcusdt",
		Side:     entity.OrderSideBuy,
		Quantity: decimal.RequireFromString("0.0157"),
		Leverage: 10,
		StopLoss: &stopLoss,
	})
	require.NoError(t, err)

	assert.Equal(t, "order-123", result.OrderID)
	assert.True(t, result.Quantity.Equal(decimal.RequireFromString("0.015")))
	assert.Equal(t, 1, fake.leverageCalls)
	assert.Equal(t, 1, fake.orderCalls)

	assert.Equal(t, "BTCUSDT", fake.lastOrderBody["symbol"])
	assert.Equal(t, "Buy", fake.lastOrderBody["side"])
	assert.Equal(t, "Market", fake.lastOrderBody["orderType"])
	assert.Equal(t, "IOC", fake.lastOrderBody["timeInForce"])
	assert.Equal(t, "0.015", fake.lastOrderBody["qty"])
	assert.Equal(t, "49000.5", fake.lastOrderBody["stopLoss"])
	assert.NotEmpty(t, fake.lastOrderBody["orderLinkId"])
}

func TestPlaceOrderLeverageFailureAborts(t *testing.T) {
	fake := newFakeBybit()
	fake.leverageRetCode = 10001
	client := newTestExchange(t, fake)

	_, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Quantity: decimal.RequireFromString("0.01"),
		Leverage: 10,
	})
	require.Error(t, err)
	assert.Equal(t, 0, fake.orderCalls)
}

func TestPlaceOrderRejection(t *testing.T) {
	fake := newFakeBybit()
	fake.orderRetCode = 110007
	fake.orderRetMsg = "ab not enough for new order"
	client := newTestExchange(t, fake)

	_, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideSell,
		Quantity: decimal.RequireFromString("0.01"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ab not enough for new order")
}

func TestGetAccountInfo(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)

	info, err := client.GetAccountInfo(context.Background())
	require.NoError(t, err)

	assert.True(t, info.Balance.Equal(decimal.RequireFromString("1000.75")))
	assert.True(t, info.Equity.Equal(decimal.RequireFromString("1250.5")))
	assert.True(t, info.AvailableBalance.Equal(decimal.RequireFromString("800.25")))
}

func TestGetPositionsSkipsZeroSize(t *testing.T) {
	fake := newFakeBybit()
	client := newTestExchange(t, fake)

	positions, err := client.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("50000")))
	// margin used = 500 / 10 = 50, pnl% = 10 / 50 * 100
	assert.True(t, pos.PnlPercentage.Equal(decimal.NewFromInt(20)), "got %s", pos.PnlPercentage)
}

func TestPnlPercentageZeroGuard(t *testing.T) {
	got := pnlPercentage(decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	assert.True(t, got.IsZero())

	got = pnlPercentage(decimal.NewFromInt(10), decimal.NewFromInt(500), decimal.Zero)
	assert.True(t, got.Equal(decimal.NewFromInt(2)))
}

func TestCheckConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 10003, "API key is invalid", nil)
	}))
	t.Cleanup(server.Close)

	client := NewBybitExchange(config.ExchangeConfig{
		APIKey:    "bad-key",
		APISecret: "bad-secret",
		BaseURL:   server.URL,
	})

	err := client.CheckConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is invalid")
}

func TestCancelOrderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBybit(w, 110001, "order not exists or too late to cancel", nil)
	}))
	t.Cleanup(server.Close)

	client := NewBybitExchange(config.ExchangeConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})

	err := client.CancelOrder(context.Background(), "BTCUSDT", "missing-order")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too late to cancel")
}

func TestSignedRequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		writeBybit(w, 0, "OK", map[string]any{"list": []map[string]any{{"accountType": "UNIFIED"}}})
	}))
	t.Cleanup(server.Close)

	client := NewBybitExchange(config.ExchangeConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})

	require.NoError(t, client.CheckConnection(context.Background()))

	assert.Equal(t, "test-key", gotHeaders.Get("X-BAPI-API-KEY"))
	assert.NotEmpty(t, gotHeaders.Get("X-BAPI-TIMESTAMP"))
	assert.Equal(t, fmt.Sprintf("%d", defaultRecvWindow), gotHeaders.Get("X-BAPI-RECV-WINDOW"))
	assert.Len(t, gotHeaders.Get("X-BAPI-SIGN"), 64)
}
