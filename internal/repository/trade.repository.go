package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/signalbridge/signal-bridge/internal/entity"
)

const defaultTradeListLimit = 50

type TradeRepository struct {
	db *sqlx.DB
}

func NewTradeRepository(db *sqlx.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Create(ctx context.Context, trade *entity.Trade) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(trade.TableName()).
		Columns(
			"order_id",
			"symbol",
			"side",
			"quantity",
			"leverage",
			"entry_price",
			"stop_loss",
			"take_profit",
			"status",
			"reason",
			"pnl",
			"signal_data",
			"created_at",
			"updated_at",
		).
		Values(
			trade.OrderID,
			trade.Symbol,
			trade.Side,
			trade.Quantity,
			trade.Leverage,
			trade.EntryPrice,
			trade.StopLoss,
			trade.TakeProfit,
			trade.Status,
			trade.Reason,
			trade.Pnl,
			trade.SignalData,
			trade.CreatedAt,
			trade.UpdatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return err
	}

	trade.ID = id

	return nil
}

func (r *TradeRepository) GetByID(ctx context.Context, id int64) (*entity.Trade, error) {
	var trade entity.Trade
	err := r.db.GetContext(ctx, &trade, "SELECT * FROM trades WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *TradeRepository) GetByOrderID(ctx context.Context, orderID string) (*entity.Trade, error) {
	var trade entity.Trade
	err := r.db.GetContext(ctx, &trade, "SELECT * FROM trades WHERE order_id = $1", orderID)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// List returns ledger rows most recent first, bounded by limit.
func (r *TradeRepository) List(ctx context.Context, limit int) ([]entity.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeListLimit
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("trades").
		OrderBy("created_at desc").
		Limit(uint64(limit))

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	trades := []entity.Trade{}
	err = r.db.SelectContext(ctx, &trades, query, args...)
	if err != nil {
		return nil, err
	}

	return trades, nil
}

// Update mutates the only fields the ledger permits to change after
// insert.
func (r *TradeRepository) Update(ctx context.Context, trade *entity.Trade) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(trade.TableName()).
		Set("order_id", trade.OrderID).
		Set("status", trade.Status).
		Set("reason", trade.Reason).
		Set("entry_price", trade.EntryPrice).
		Set("pnl", trade.Pnl).
		Set("updated_at", trade.UpdatedAt).
		Where(sq.Eq{"id": trade.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
