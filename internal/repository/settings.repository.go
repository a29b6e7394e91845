package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/signalbridge/signal-bridge/internal/entity"
)

type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get loads the singleton settings row. The migration seeds it, so a
// missing row is a genuine error, not a default case.
func (r *SettingsRepository) Get(ctx context.Context) (*entity.Settings, error) {
	var settings entity.Settings
	err := r.db.GetContext(ctx, &settings, "SELECT * FROM settings WHERE id = $1", entity.SettingsID)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Update applies only the fields present in the patch and returns the
// resulting row.
func (r *SettingsRepository) Update(ctx context.Context, patch entity.SettingsPatch) (*entity.Settings, error) {
	if patch.IsEmpty() {
		return r.Get(ctx)
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(entity.Settings{}.TableName()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": entity.SettingsID})

	if patch.AutoTradingEnabled.Valid {
		queryBuilder = queryBuilder.Set("auto_trading_enabled", patch.AutoTradingEnabled.Bool)
	}
	if patch.MaxPositionSize != nil {
		queryBuilder = queryBuilder.Set("max_position_size", *patch.MaxPositionSize)
	}
	if patch.RiskPercentage != nil {
		queryBuilder = queryBuilder.Set("risk_percentage", *patch.RiskPercentage)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return r.Get(ctx)
}
