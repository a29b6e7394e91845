package entity

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Signal is an inbound instruction from the external alerting source.
// It is immutable once parsed; the raw payload travels alongside it so the
// ledger can keep a verbatim snapshot for audit and replay.
type Signal struct {
	Action       OrderSide        `json:"action"`
	Symbol       string           `json:"symbol"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	Leverage     int              `json:"leverage,omitempty"`
	AlertMessage string           `json:"alert_message,omitempty"`
}

// Validate checks payload shape only. Semantic checks (symbol existence,
// margin) are deferred to the exchange.
func (s *Signal) Validate() error {
	switch s.Action {
	case OrderSideBuy, OrderSideSell:
	case "":
		return fmt.Errorf("signal action is required")
	default:
		return fmt.Errorf("invalid signal action: %q (expected buy or sell)", s.Action)
	}

	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal symbol is required")
	}

	if s.Quantity != nil && !s.Quantity.GreaterThan(decimal.Zero) {
		return fmt.Errorf("signal quantity must be positive")
	}

	if s.Leverage < 0 {
		return fmt.Errorf("signal leverage must not be negative")
	}

	return nil
}

// ApplyDefaults fills optional fields with their documented defaults.
func (s *Signal) ApplyDefaults() {
	if s.Leverage == 0 {
		s.Leverage = 1
	}
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Action = OrderSide(strings.ToLower(string(s.Action)))
}

type SignalEvent struct {
	RetryCount int    `json:"retry"`
	Payload    []byte `json:"payload"`
}
