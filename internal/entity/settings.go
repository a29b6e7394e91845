package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// SettingsID is the fixed primary key of the singleton settings row.
const SettingsID = 1

type Settings struct {
	ID                 int64           `db:"id" json:"id"`
	AutoTradingEnabled bool            `db:"auto_trading_enabled" json:"auto_trading_enabled"`
	MaxPositionSize    decimal.Decimal `db:"max_position_size" json:"max_position_size"`
	RiskPercentage     decimal.Decimal `db:"risk_percentage" json:"risk_percentage"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

func (s Settings) TableName() string {
	return "settings"
}

// SettingsPatch carries a partial settings update; only valid fields are
// applied.
type SettingsPatch struct {
	AutoTradingEnabled null.Bool
	MaxPositionSize    *decimal.Decimal
	RiskPercentage     *decimal.Decimal
}

func (p SettingsPatch) IsEmpty() bool {
	return !p.AutoTradingEnabled.Valid && p.MaxPositionSize == nil && p.RiskPercentage == nil
}
