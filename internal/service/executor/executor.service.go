package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/signalbridge/signal-bridge/internal/entity"
)

var (
	ErrDuplicateSignal     = errors.New("duplicate signal")
	ErrSettingsUnavailable = errors.New("trading settings unavailable")
)

// positionSettleDelay gives the exchange time to materialize the
// position before we read the average entry price off it.
const positionSettleDelay = 500 * time.Millisecond

type TradeStore interface {
	Create(ctx context.Context, trade *entity.Trade) error
	GetByOrderID(ctx context.Context, orderID string) (*entity.Trade, error)
	Update(ctx context.Context, trade *entity.Trade) error
}

type SettingsStore interface {
	Get(ctx context.Context) (*entity.Settings, error)
}

// DedupGuard remembers recently seen webhook payloads. Register returns
// false when the payload was already seen inside the dedup window.
type DedupGuard interface {
	Register(ctx context.Context, payload []byte) (bool, error)
}

// SignalResult is the caller-facing outcome of a processed signal. The
// trade id always refers to a persisted ledger row.
type SignalResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TradeID int64  `json:"trade_id"`
	OrderID string `json:"order_id,omitempty"`
}

// Service drives a signal through the execution pipeline: dedup, the
// auto-trading gate, connectivity check, sizing, order placement and the
// single ledger insert. Sizing and submission run under one mutex so
// concurrent signals cannot size against the same balance.
type Service struct {
	exchange entity.Exchange
	trades   TradeStore
	settings SettingsStore
	dedup    DedupGuard

	defaultPositionSize decimal.Decimal

	mu sync.Mutex
}

func NewService(exchange entity.Exchange, trades TradeStore, settings SettingsStore, dedup DedupGuard, defaultPositionSize decimal.Decimal) *Service {
	if !defaultPositionSize.GreaterThan(decimal.Zero) {
		defaultPositionSize = decimal.RequireFromString("0.001")
	}

	return &Service{
		exchange:            exchange,
		trades:              trades,
		settings:            settings,
		dedup:               dedup,
		defaultPositionSize: defaultPositionSize,
	}
}

// ProcessSignal executes one validated signal end to end. Every return
// with a non-nil result has already written exactly one ledger row; an
// error return means no row was written and the caller should surface
// the failure.
func (s *Service) ProcessSignal(ctx context.Context, signal *entity.Signal, rawPayload []byte) (*SignalResult, error) {
	logger := logrus.WithFields(logrus.Fields{
		"symbol": signal.Symbol,
		"action": signal.Action,
	})

	if s.dedup != nil {
		fresh, err := s.dedup.Register(ctx, rawPayload)
		if err != nil {
			// Dedup storage being down must not halt trading.
			logger.WithError(err).Warn("dedup guard unavailable, accepting signal")
		} else if !fresh {
			logger.Info("duplicate signal dropped")
			return nil, ErrDuplicateSignal
		}
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}

	quantity := s.defaultPositionSize
	if signal.Quantity != nil {
		quantity = *signal.Quantity
	}
	trade := entity.NewPendingTrade(signal, quantity, rawPayload)

	if !settings.AutoTradingEnabled {
		trade.Reject("Auto trading is disabled")
		if err := s.trades.Create(ctx, trade); err != nil {
			return nil, err
		}

		logger.Info("signal recorded, auto trading disabled")
		return &SignalResult{
			Success: false,
			Message: "Trade recorded but not executed - auto trading disabled",
			TradeID: trade.ID,
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.exchange.CheckConnection(ctx); err != nil {
		trade.Reject(fmt.Sprintf("Bybit connection failed: %v", err))
		if err := s.trades.Create(ctx, trade); err != nil {
			return nil, err
		}

		logger.WithError(err).Warn("signal rejected, exchange unreachable")
		return &SignalResult{
			Success: false,
			Message: "Trade rejected - Bybit connection failed",
			TradeID: trade.ID,
		}, nil
	}

	if signal.Quantity == nil {
		trade.Quantity = s.sizeFromRisk(ctx, settings, logger)
	}

	order, err := s.exchange.PlaceOrder(ctx, entity.OrderRequest{
		Symbol:     signal.Symbol,
		Side:       signal.Action,
		Quantity:   trade.Quantity,
		Leverage:   signal.Leverage,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	})
	if err != nil {
		trade.Reject(fmt.Sprintf("Order failed: %v", err))
		if createErr := s.trades.Create(ctx, trade); createErr != nil {
			return nil, createErr
		}

		logger.WithError(err).Warn("order placement rejected")
		return &SignalResult{
			Success: false,
			Message: trade.Reason.String,
			TradeID: trade.ID,
		}, nil
	}

	trade.Quantity = order.Quantity
	trade.Fill(order.OrderID, s.resolveEntryPrice(ctx, signal.Symbol, order, logger))
	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"order_id": order.OrderID,
		"quantity": order.Quantity.String(),
	}).Info("signal executed")

	return &SignalResult{
		Success: true,
		Message: trade.Reason.String,
		TradeID: trade.ID,
		OrderID: order.OrderID,
	}, nil
}

// sizeFromRisk derives the order quantity from the configured risk
// percentage of the current balance, capped at max_position_size. When
// the balance lookup fails the configured default size applies.
func (s *Service) sizeFromRisk(ctx context.Context, settings *entity.Settings, logger *logrus.Entry) decimal.Decimal {
	info, err := s.exchange.GetAccountInfo(ctx)
	if err != nil {
		logger.WithError(err).Warn("balance lookup failed, using default position size")
		return s.defaultPositionSize
	}

	balance := info.AvailableBalance
	if !balance.GreaterThan(decimal.Zero) {
		balance = info.Balance
	}
	if !balance.GreaterThan(decimal.Zero) {
		logger.Warn("account balance is empty, using default position size")
		return s.defaultPositionSize
	}

	quantity := balance.Mul(settings.RiskPercentage).Div(decimal.NewFromInt(100))
	if settings.MaxPositionSize.GreaterThan(decimal.Zero) && quantity.GreaterThan(settings.MaxPositionSize) {
		quantity = settings.MaxPositionSize
	}

	if !quantity.GreaterThan(decimal.Zero) {
		return s.defaultPositionSize
	}

	return quantity
}

// resolveEntryPrice is best effort: the position's average price when
// the exchange reports one, the immediate order price otherwise, zero as
// the last resort. Enrichment failures never fail the trade.
func (s *Service) resolveEntryPrice(ctx context.Context, symbol string, order *entity.OrderResult, logger *logrus.Entry) decimal.Decimal {
	select {
	case <-time.After(positionSettleDelay):
	case <-ctx.Done():
	}

	positions, err := s.exchange.GetPositions(ctx, symbol)
	if err == nil {
		for _, pos := range positions {
			if pos.EntryPrice.GreaterThan(decimal.Zero) {
				return pos.EntryPrice
			}
		}
	} else {
		logger.WithError(err).Warn("entry price lookup failed, falling back to order price")
	}

	if order.Price != nil {
		return *order.Price
	}

	return decimal.Zero
}

// CancelOrder cancels on the exchange first; the ledger row is only
// touched after the exchange confirms. A ledger row that no longer
// exists (or never did) is not an error.
func (s *Service) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := s.exchange.CancelOrder(ctx, symbol, orderID); err != nil {
		return err
	}

	trade, err := s.trades.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	trade.Cancel("Cancelled by user")

	return s.trades.Update(ctx, trade)
}

// ClosePosition flattens a position by submitting a market order on the
// opposite side, and records the close as its own filled ledger row.
func (s *Service) ClosePosition(ctx context.Context, symbol string, side entity.OrderSide, size decimal.Decimal) (*SignalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opposite := side.Opposite()
	order, err := s.exchange.PlaceOrder(ctx, entity.OrderRequest{
		Symbol:   symbol,
		Side:     opposite,
		Quantity: size,
	})
	if err != nil {
		return nil, err
	}

	signal := &entity.Signal{Action: opposite, Symbol: symbol}
	signal.ApplyDefaults()

	trade := entity.NewPendingTrade(signal, order.Quantity, nil)
	trade.Fill(order.OrderID, s.resolveEntryPrice(ctx, signal.Symbol, order, logrus.WithField("symbol", signal.Symbol)))
	trade.Reason = null.StringFrom("Position closed by user")
	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"symbol":   signal.Symbol,
		"side":     opposite,
		"order_id": order.OrderID,
	}).Info("position closed")

	return &SignalResult{
		Success: true,
		Message: "Position closed successfully",
		TradeID: trade.ID,
		OrderID: order.OrderID,
	}, nil
}
