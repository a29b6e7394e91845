package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/signalbridge/signal-bridge/internal/config"
	"github.com/signalbridge/signal-bridge/internal/entity"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	bybitCategoryLinear = "linear"
	bybitSettleCoin     = "USDT"

	defaultRecvWindow = 5000
)

// APIError carries the upstream retCode/retMsg so callers can branch on
// specific exchange conditions while the message text stays verbatim for
// operator diagnosis.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error: code=%d message=%s", e.Code, e.Message)
}

// BybitExchange talks to Bybit's V5 unified trading API. All derivatives
// calls use the linear (USDT perpetual) category in one-way position
// mode, matching the account setup this relay targets.
type BybitExchange struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client

	rulesMu sync.RWMutex
	rules   map[string]entity.InstrumentRules
}

var _ entity.Exchange = (*BybitExchange)(nil)

func NewBybitExchange(cfg config.ExchangeConfig) *BybitExchange {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		if cfg.Testnet {
			baseURL = bybitTestnetURL
		} else {
			baseURL = bybitMainnetURL
		}
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 || recvWindow > 60000 {
		recvWindow = defaultRecvWindow
	}

	return &BybitExchange{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		rules:      make(map[string]entity.InstrumentRules),
	}
}

// CheckConnection probes the wallet-balance endpoint; a nil return means
// credentials work and the exchange answers.
func (e *BybitExchange) CheckConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", bybitSettleCoin)

	var result entity.BybitWalletBalanceResult
	if err := e.getSigned(ctx, "/v5/account/wallet-balance", params, &result); err != nil {
		return fmt.Errorf("bybit connection check failed: %w", err)
	}

	return nil
}

func (e *BybitExchange) GetAccountInfo(ctx context.Context) (*entity.AccountInfo, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var result entity.BybitWalletBalanceResult
	if err := e.getSigned(ctx, "/v5/account/wallet-balance", params, &result); err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, fmt.Errorf("bybit wallet balance returned no accounts")
	}

	account := result.List[0]
	info := &entity.AccountInfo{
		Equity:           decimalOrZero(account.TotalEquity),
		AvailableBalance: decimalOrZero(account.TotalAvailableBalance),
	}

	for _, coin := range account.Coin {
		if coin.Coin == bybitSettleCoin {
			info.Balance = decimalOrZero(coin.WalletBalance)
			break
		}
	}

	return info, nil
}

// GetInstrumentRules fetches and memoizes the symbol's trading
// constraints. Lookups are cached for the process lifetime; on any
// failure conservative defaults keep order flow alive instead of
// propagating the error.
func (e *BybitExchange) GetInstrumentRules(ctx context.Context, symbol string) entity.InstrumentRules {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return conservativeInstrumentRules()
	}

	e.rulesMu.RLock()
	if rules, ok := e.rules[normalized]; ok {
		e.rulesMu.RUnlock()
		return rules
	}
	e.rulesMu.RUnlock()

	rules, err := e.fetchInstrumentRules(ctx, normalized)
	if err != nil {
		logrus.WithError(err).WithField("symbol", normalized).Warn("failed to fetch instrument rules, using defaults")
		return conservativeInstrumentRules()
	}

	e.rulesMu.Lock()
	e.rules[normalized] = rules
	e.rulesMu.Unlock()

	return rules
}

func (e *BybitExchange) fetchInstrumentRules(ctx context.Context, symbol string) (entity.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", bybitCategoryLinear)
	params.Set("symbol", symbol)

	var result entity.BybitInstrumentsInfoResult
	if err := e.getPublic(ctx, "/v5/market/instruments-info", params, &result); err != nil {
		return entity.InstrumentRules{}, err
	}

	if len(result.List) == 0 {
		return entity.InstrumentRules{}, fmt.Errorf("no instrument info for symbol %s", symbol)
	}

	instrument := result.List[0]
	rules := entity.InstrumentRules{
		MinOrderQty: decimalOrZero(instrument.LotSizeFilter.MinOrderQty),
		MaxOrderQty: decimalOrZero(instrument.LotSizeFilter.MaxOrderQty),
		QtyStep:     decimalOrZero(instrument.LotSizeFilter.QtyStep),
		TickSize:    decimalOrZero(instrument.PriceFilter.TickSize),
		MinPrice:    decimalOrZero(instrument.PriceFilter.MinPrice),
		MaxPrice:    decimalOrZero(instrument.PriceFilter.MaxPrice),
	}

	defaults := conservativeInstrumentRules()
	if !rules.QtyStep.GreaterThan(decimal.Zero) {
		rules.QtyStep = defaults.QtyStep
	}
	if !rules.MaxOrderQty.GreaterThan(decimal.Zero) {
		rules.MaxOrderQty = defaults.MaxOrderQty
	}
	if !rules.TickSize.GreaterThan(decimal.Zero) {
		rules.TickSize = defaults.TickSize
	}

	return rules, nil
}

func conservativeInstrumentRules() entity.InstrumentRules {
	return entity.InstrumentRules{
		MinOrderQty: decimal.RequireFromString("0.001"),
		MaxOrderQty: decimal.NewFromInt(10000),
		QtyStep:     decimal.RequireFromString("0.001"),
		TickSize:    decimal.RequireFromString("0.01"),
		MinPrice:    decimal.RequireFromString("0.01"),
		MaxPrice:    decimal.NewFromInt(999999),
	}
}

// AdjustQuantity floors the quantity to the symbol's step size, then
// clamps it into [min, max]. Exact decimal arithmetic: float rounding
// here gets orders rejected by the exchange.
func (e *BybitExchange) AdjustQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) decimal.Decimal {
	rules := e.GetInstrumentRules(ctx, symbol)

	adjusted := quantity
	if rules.QtyStep.GreaterThan(decimal.Zero) {
		adjusted = quantity.Div(rules.QtyStep).Floor().Mul(rules.QtyStep)
	}

	if adjusted.LessThan(rules.MinOrderQty) {
		adjusted = rules.MinOrderQty
	} else if adjusted.GreaterThan(rules.MaxOrderQty) {
		adjusted = rules.MaxOrderQty
	}

	return adjusted
}

// AdjustPrice rounds the price to the nearest tick, half away from zero,
// matching the exchange's own validation.
func (e *BybitExchange) AdjustPrice(ctx context.Context, symbol string, price decimal.Decimal) decimal.Decimal {
	rules := e.GetInstrumentRules(ctx, symbol)
	if !rules.TickSize.GreaterThan(decimal.Zero) {
		return price
	}

	return price.Div(rules.TickSize).Round(0).Mul(rules.TickSize)
}

// SetLeverage is idempotent: Bybit answers retCode 110043 ("leverage not
// modified") when the value is already in effect, which is a no-op, not
// a failure.
func (e *BybitExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]any{
		"category":     bybitCategoryLinear,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}

	var result json.RawMessage
	err := e.postSigned(ctx, "/v5/position/set-leverage", body, &result)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == entity.BybitErrLeverageNotModified || strings.Contains(strings.ToLower(apiErr.Message), "leverage not modified") {
			return nil
		}
	}

	return fmt.Errorf("set leverage to %dx for %s: %w", leverage, symbol, err)
}

// PlaceOrder submits a market order. Quantity and SL/TP prices are
// normalized to instrument constraints first, and leverage is applied
// before submission; a leverage failure aborts the whole call so the
// exchange never ends up with leverage changed but no order.
func (e *BybitExchange) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if e.apiKey == "" || e.apiSecret == "" {
		return nil, fmt.Errorf("bybit credentials are missing in config")
	}

	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	adjustedQty := e.AdjustQuantity(ctx, symbol, order.Quantity)
	if !adjustedQty.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("order quantity %s is zero after normalization", order.Quantity.String())
	}

	if order.Leverage > 0 {
		if err := e.SetLeverage(ctx, symbol, order.Leverage); err != nil {
			return nil, err
		}
	}

	orderLinkID := strings.ReplaceAll(uuid.NewString(), "-", "")
	body := map[string]any{
		"category":    bybitCategoryLinear,
		"symbol":      symbol,
		"side":        bybitOrderSide(order.Side),
		"orderType":   "Market",
		"qty":         adjustedQty.String(),
		"timeInForce": "IOC",
		"positionIdx": 0,
		"orderLinkId": orderLinkID,
	}

	if order.StopLoss != nil {
		body["stopLoss"] = e.AdjustPrice(ctx, symbol, *order.StopLoss).String()
	}
	if order.TakeProfit != nil {
		body["takeProfit"] = e.AdjustPrice(ctx, symbol, *order.TakeProfit).String()
	}

	var result entity.BybitOrderCreateResult
	if err := e.postSigned(ctx, "/v5/order/create", body, &result); err != nil {
		return nil, fmt.Errorf("order placement failed: %w", err)
	}

	var price *decimal.Decimal
	if trimmed := strings.TrimSpace(result.Price); trimmed != "" && trimmed != "0" {
		if parsed, err := decimal.NewFromString(trimmed); err == nil {
			price = &parsed
		}
	}

	logrus.WithFields(logrus.Fields{
		"symbol":        symbol,
		"side":          order.Side,
		"requested_qty": order.Quantity.String(),
		"qty":           adjustedQty.String(),
		"leverage":      order.Leverage,
		"order_id":      result.OrderID,
		"order_link_id": orderLinkID,
	}).Info("order placed")

	return &entity.OrderResult{
		OrderID:     result.OrderID,
		OrderLinkID: orderLinkID,
		Quantity:    adjustedQty,
		Price:       price,
	}, nil
}

// GetPositions returns open positions, optionally filtered to one
// symbol. Zero-size rows are skipped.
func (e *BybitExchange) GetPositions(ctx context.Context, symbol string) ([]entity.Position, error) {
	params := url.Values{}
	params.Set("category", bybitCategoryLinear)
	if trimmed := strings.ToUpper(strings.TrimSpace(symbol)); trimmed != "" {
		params.Set("symbol", trimmed)
	} else {
		params.Set("settleCoin", bybitSettleCoin)
	}

	var result entity.BybitPositionListResult
	if err := e.getSigned(ctx, "/v5/position/list", params, &result); err != nil {
		return nil, err
	}

	positions := make([]entity.Position, 0, len(result.List))
	for _, pos := range result.List {
		size := decimalOrZero(pos.Size)
		if !size.GreaterThan(decimal.Zero) {
			continue
		}

		entryPrice := decimalOrZero(pos.AvgPrice)
		currentPrice := decimalOrZero(pos.MarkPrice)
		if currentPrice.IsZero() {
			currentPrice = entryPrice
		}

		positions = append(positions, entity.Position{
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Size:          size,
			Leverage:      decimalOrZero(pos.Leverage),
			EntryPrice:    entryPrice,
			CurrentPrice:  currentPrice,
			Pnl:           decimalOrZero(pos.UnrealisedPnl),
			PnlPercentage: pnlPercentage(decimalOrZero(pos.UnrealisedPnl), decimalOrZero(pos.PositionValue), decimalOrZero(pos.Leverage)),
		})
	}

	return positions, nil
}

// pnlPercentage is pnl over margin used (positionValue / leverage),
// expressed as a percentage. Zero leverage or zero margin yields 0%, not
// a division fault.
func pnlPercentage(pnl, positionValue, leverage decimal.Decimal) decimal.Decimal {
	marginUsed := positionValue
	if leverage.GreaterThan(decimal.Zero) {
		marginUsed = positionValue.Div(leverage)
	}

	if !marginUsed.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}

	return pnl.Div(marginUsed).Mul(decimal.NewFromInt(100))
}

func (e *BybitExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": bybitCategoryLinear,
		"symbol":   strings.ToUpper(strings.TrimSpace(symbol)),
		"orderId":  strings.TrimSpace(orderID),
	}

	var result entity.BybitOrderCancelResult
	if err := e.postSigned(ctx, "/v5/order/cancel", body, &result); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	return nil
}

func (e *BybitExchange) getPublic(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := e.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	return e.do(req, out)
}

func (e *BybitExchange) getSigned(ctx context.Context, path string, params url.Values, out any) error {
	query := params.Encode()
	endpoint := e.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	e.signRequest(req, query)

	return e.do(req, out)
}

func (e *BybitExchange) postSigned(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	e.signRequest(req, string(payload))

	return e.do(req, out)
}

// signRequest applies Bybit V5 authentication: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, where payload is the query
// string for GETs and the JSON body for POSTs.
func (e *BybitExchange) signRequest(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(e.recvWindow, 10)
	signature := hmacSHA256Hex(e.apiSecret, timestamp+e.apiKey+recvWindow+payload)

	req.Header.Set("X-BAPI-API-KEY", e.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
}

func (e *BybitExchange) do(req *http.Request, out any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope entity.BybitResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("bybit response parse failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	if resp.StatusCode >= http.StatusBadRequest || envelope.RetCode != 0 {
		message := envelope.RetMsg
		if message == "" {
			message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}

		return &APIError{Code: envelope.RetCode, Message: message}
	}

	if out == nil {
		return nil
	}

	if len(envelope.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("bybit result parse failed: %w", err)
	}

	return nil
}

func bybitOrderSide(side entity.OrderSide) string {
	if side == entity.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func hmacSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func decimalOrZero(raw string) decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero
	}

	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}

	return parsed
}
