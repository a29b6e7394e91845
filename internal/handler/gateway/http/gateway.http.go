package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalbridge/signal-bridge/internal/entity"
	"github.com/signalbridge/signal-bridge/internal/service/executor"
)

const maxWebhookBodySize = 1 << 20

type signalExecutor interface {
	ProcessSignal(ctx context.Context, signal *entity.Signal, rawPayload []byte) (*executor.SignalResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ClosePosition(ctx context.Context, symbol string, side entity.OrderSide, size decimal.Decimal) (*executor.SignalResult, error)
}

type signalPublisher interface {
	Publish(ctx context.Context, rawPayload []byte) error
}

type tradeReader interface {
	GetByID(ctx context.Context, id int64) (*entity.Trade, error)
	List(ctx context.Context, limit int) ([]entity.Trade, error)
}

type settingsStore interface {
	Get(ctx context.Context) (*entity.Settings, error)
	Update(ctx context.Context, patch entity.SettingsPatch) (*entity.Settings, error)
}

type AccountStatusResponse struct {
	Connected        bool    `json:"connected"`
	Balance          *string `json:"balance,omitempty"`
	Equity           *string `json:"equity,omitempty"`
	AvailableBalance *string `json:"available_balance,omitempty"`
}

type SettingsResponse struct {
	AutoTradingEnabled bool   `json:"auto_trading_enabled"`
	MaxPositionSize    string `json:"max_position_size"`
	RiskPercentage     string `json:"risk_percentage"`
}

type SettingsUpdateRequest struct {
	AutoTradingEnabled *bool            `json:"auto_trading_enabled"`
	MaxPositionSize    *decimal.Decimal `json:"max_position_size"`
	RiskPercentage     *decimal.Decimal `json:"risk_percentage"`
}

type SettingsUpdateResponse struct {
	Success            bool   `json:"success"`
	AutoTradingEnabled bool   `json:"auto_trading_enabled"`
	MaxPositionSize    string `json:"max_position_size"`
	RiskPercentage     string `json:"risk_percentage"`
}

type PositionResponse struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Leverage      string `json:"leverage"`
	EntryPrice    string `json:"entry_price"`
	CurrentPrice  string `json:"current_price"`
	Pnl           string `json:"pnl"`
	PnlPercentage string `json:"pnl_percentage"`
}

type TradeResponse struct {
	ID         int64     `json:"id"`
	OrderID    *string   `json:"order_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   string    `json:"quantity"`
	Leverage   int       `json:"leverage"`
	EntryPrice *string   `json:"entry_price,omitempty"`
	StopLoss   *string   `json:"stop_loss,omitempty"`
	TakeProfit *string   `json:"take_profit,omitempty"`
	Status     string    `json:"status"`
	Reason     *string   `json:"reason,omitempty"`
	Pnl        *string   `json:"pnl,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type WebhookAsyncResponse struct {
	Status string `json:"status"`
}

type ClosePositionRequest struct {
	Side string          `json:"side"`
	Size decimal.Decimal `json:"size"`
}

type Handler struct {
	executor signalExecutor
	intake   signalPublisher
	exchange entity.Exchange
	trades   tradeReader
	settings settingsStore
}

func NewGatewayHTTPHandler(exec signalExecutor, intake signalPublisher, exchange entity.Exchange, trades tradeReader, settings settingsStore) *Handler {
	return &Handler{
		executor: exec,
		intake:   intake,
		exchange: exchange,
		trades:   trades,
		settings: settings,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhook", h.Webhook)
	mux.HandleFunc("POST /api/webhook/async", h.WebhookAsync)
	mux.HandleFunc("GET /api/account/status", h.AccountStatus)
	mux.HandleFunc("GET /api/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/settings", h.UpdateSettings)
	mux.HandleFunc("GET /api/positions", h.Positions)
	mux.HandleFunc("GET /api/trades", h.ListTrades)
	mux.HandleFunc("GET /api/trades/{tradeID}", h.GetTrade)
	mux.HandleFunc("DELETE /api/order/{orderID}", h.CancelOrder)
	mux.HandleFunc("POST /api/positions/{symbol}/close", h.ClosePosition)
}

// Webhook receives a TradingView alert and runs it through the
// execution pipeline synchronously. The raw body is kept verbatim for
// the ledger and the dedup guard.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := validateWebhookToken(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error()})
		return
	}

	defer r.Body.Close()

	body, signal, err := decodeSignal(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	result, err := h.executor.ProcessSignal(r.Context(), signal, body)
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrDuplicateSignal):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "duplicate signal"})
		case errors.Is(err, executor.ErrSettingsUnavailable):
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "trading settings unavailable"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// WebhookAsync validates the alert and queues it for the worker instead
// of executing inline.
func (h *Handler) WebhookAsync(w http.ResponseWriter, r *http.Request) {
	if err := validateWebhookToken(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error()})
		return
	}

	defer r.Body.Close()

	body, _, err := decodeSignal(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if h.intake == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "async intake is not configured"})
		return
	}

	if err := h.intake.Publish(r.Context(), body); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to queue signal"})
		return
	}

	writeJSON(w, http.StatusAccepted, WebhookAsyncResponse{Status: "queued"})
}

func (h *Handler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.exchange.CheckConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, AccountStatusResponse{Connected: false})
		return
	}

	info, err := h.exchange.GetAccountInfo(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, AccountStatusResponse{Connected: false})
		return
	}

	writeJSON(w, http.StatusOK, AccountStatusResponse{
		Connected:        true,
		Balance:          decimalString(info.Balance),
		Equity:           decimalString(info.Equity),
		AvailableBalance: decimalString(info.AvailableBalance),
	})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "settings not found"})
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		AutoTradingEnabled: settings.AutoTradingEnabled,
		MaxPositionSize:    settings.MaxPositionSize.String(),
		RiskPercentage:     settings.RiskPercentage.String(),
	})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(resolveAPIKey(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	defer r.Body.Close()

	var req SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	patch := entity.SettingsPatch{
		MaxPositionSize: req.MaxPositionSize,
		RiskPercentage:  req.RiskPercentage,
	}
	if req.AutoTradingEnabled != nil {
		patch.AutoTradingEnabled.SetValid(*req.AutoTradingEnabled)
	}

	if patch.IsEmpty() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no settings fields provided"})
		return
	}

	if err := validateSettingsPatch(patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	settings, err := h.settings.Update(r.Context(), patch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to update settings"})
		return
	}

	writeJSON(w, http.StatusOK, SettingsUpdateResponse{
		Success:            true,
		AutoTradingEnabled: settings.AutoTradingEnabled,
		MaxPositionSize:    settings.MaxPositionSize.String(),
		RiskPercentage:     settings.RiskPercentage.String(),
	})
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.exchange.GetPositions(r.Context(), "")
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to fetch positions"})
		return
	}

	resp := make([]PositionResponse, 0, len(positions))
	for _, pos := range positions {
		resp = append(resp, PositionResponse{
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Size:          pos.Size.String(),
			Leverage:      pos.Leverage.String(),
			EntryPrice:    pos.EntryPrice.String(),
			CurrentPrice:  pos.CurrentPrice.String(),
			Pnl:           pos.Pnl.String(),
			PnlPercentage: pos.PnlPercentage.String(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	trades, err := h.trades.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	resp := make([]TradeResponse, 0, len(trades))
	for i := range trades {
		resp = append(resp, mapTradeToHTTPResponse(&trades[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID, err := strconv.ParseInt(r.PathValue("tradeID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid trade id"})
		return
	}

	trade, err := h.trades.GetByID(r.Context(), tradeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "trade not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, mapTradeToHTTPResponse(trade))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(resolveAPIKey(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	orderID := strings.TrimSpace(r.PathValue("orderID"))
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if orderID == "" || symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order id and symbol are required"})
		return
	}

	if err := h.executor.CancelOrder(r.Context(), symbol, orderID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to cancel order"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order cancelled successfully",
	})
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(resolveAPIKey(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	defer r.Body.Close()

	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol is required"})
		return
	}

	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	side := entity.OrderSide(strings.ToLower(strings.TrimSpace(req.Side)))
	if side != entity.OrderSideBuy && side != entity.OrderSideSell {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "side must be buy or sell"})
		return
	}
	if !req.Size.GreaterThan(decimal.Zero) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "size must be positive"})
		return
	}

	result, err := h.executor.ClosePosition(r.Context(), symbol, side, req.Size)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "failed to close position"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeSignal reads the raw body and parses it into a normalized,
// validated signal. The raw bytes come back untouched so downstream
// consumers see exactly what the alerting source sent.
func decodeSignal(r *http.Request) ([]byte, *entity.Signal, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		return nil, nil, errors.New("failed to read request body")
	}

	var signal entity.Signal
	if err := json.Unmarshal(body, &signal); err != nil {
		return nil, nil, errors.New("invalid webhook data")
	}

	signal.ApplyDefaults()
	if err := signal.Validate(); err != nil {
		return nil, nil, err
	}

	return body, &signal, nil
}

func validateSettingsPatch(patch entity.SettingsPatch) error {
	if patch.MaxPositionSize != nil && !patch.MaxPositionSize.GreaterThan(decimal.Zero) {
		return errors.New("max_position_size must be positive")
	}
	if patch.RiskPercentage != nil {
		if patch.RiskPercentage.LessThanOrEqual(decimal.Zero) || patch.RiskPercentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("risk_percentage must be between 0 and 100")
		}
	}

	return nil
}

func mapTradeToHTTPResponse(trade *entity.Trade) TradeResponse {
	var orderID *string
	if trade.OrderID.Valid {
		v := trade.OrderID.String
		orderID = &v
	}

	var reason *string
	if trade.Reason.Valid {
		v := trade.Reason.String
		reason = &v
	}

	return TradeResponse{
		ID:         trade.ID,
		OrderID:    orderID,
		Symbol:     trade.Symbol,
		Side:       string(trade.Side),
		Quantity:   trade.Quantity.String(),
		Leverage:   trade.Leverage,
		EntryPrice: decimalPtrString(trade.EntryPrice),
		StopLoss:   decimalPtrString(trade.StopLoss),
		TakeProfit: decimalPtrString(trade.TakeProfit),
		Status:     string(trade.Status),
		Reason:     reason,
		Pnl:        decimalPtrString(trade.Pnl),
		CreatedAt:  trade.CreatedAt,
		UpdatedAt:  trade.UpdatedAt,
	}
}

func decimalString(d decimal.Decimal) *string {
	v := d.String()
	return &v
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}

	v := d.String()
	return &v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
