package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrStatusChanged means the conditional status update lost a race:
	// the stored status no longer matches what the caller read.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, o *Order, items []Item) error
	GetByID(ctx context.Context, id string) (*Order, []Item, error)
	ListByOwner(ctx context.Context, ownerKey string, limit, offset int) ([]Order, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error)
	// UpdateStatusCAS writes the new status only if the stored one still
	// equals from; rejectionReason is persisted alongside rejections.
	UpdateStatusCAS(ctx context.Context, id string, from, to Status, rejectionReason string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderCols = `id, COALESCE(user_id,''), COALESCE(session_id,''), table_id, status,
    total_amount::text, COALESCE(special_instructions,''), COALESCE(rejection_reason,''),
    created_at, updated_at`

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(&o.ID, &o.UserID, &o.SessionID, &o.TableID, &o.Status,
		&o.Total, &o.SpecialInstructions, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt)
}

func (r *PGRepo) Create(ctx context.Context, o *Order, items []Item) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, user_id, session_id, table_id, status, total_amount, special_instructions, created_at, updated_at)
    VALUES ($1,NULLIF($2,''),NULLIF($3,''),$4,$5,$6,NULLIF($7,''),NOW(),NOW())
  `, o.ID, o.UserID, o.SessionID, o.TableID, o.Status, o.Total, o.SpecialInstructions); err != nil {
		return err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, total_price, special_instructions)
      VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''))
    `, it.ID, o.ID, it.MenuItemID, it.Quantity, it.UnitPrice, it.TotalPrice, it.SpecialInstructions); err != nil {
			return err
		}
		for _, m := range it.Modifiers {
			if _, err := tx.Exec(ctx, `
        INSERT INTO order_item_modifiers (id, order_item_id, modifier_group_id, modifier_option_id, price_adjustment)
        VALUES ($1,$2,$3,$4,$5)
      `, m.ID, it.ID, m.GroupID, m.OptionID, m.PriceAdjustment); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, []Item, error) {
	var o Order
	if err := scanOrder(r.db.QueryRow(ctx, `
    SELECT `+orderCols+` FROM orders WHERE id=$1
  `, id), &o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	rows, err := r.db.Query(ctx, `
    SELECT i.id, i.order_id, i.menu_item_id, i.quantity, i.unit_price::text, i.total_price::text, COALESCE(i.special_instructions,'')
    FROM order_items i WHERE i.order_id=$1
  `, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var items []Item
	byID := map[string]int{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.SpecialInstructions); err != nil {
			return nil, nil, err
		}
		byID[it.ID] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	mrows, err := r.db.Query(ctx, `
    SELECT m.id, m.order_item_id, m.modifier_group_id, m.modifier_option_id, m.price_adjustment::text
    FROM order_item_modifiers m
    JOIN order_items i ON i.id = m.order_item_id
    WHERE i.order_id=$1
  `, id)
	if err != nil {
		return nil, nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var m ItemModifier
		if err := mrows.Scan(&m.ID, &m.OrderItemID, &m.GroupID, &m.OptionID, &m.PriceAdjustment); err != nil {
			return nil, nil, err
		}
		if idx, ok := byID[m.OrderItemID]; ok {
			items[idx].Modifiers = append(items[idx].Modifiers, m)
		}
	}
	return &o, items, mrows.Err()
}

func (r *PGRepo) ListByOwner(ctx context.Context, ownerKey string, limit, offset int) ([]Order, error) {
	limit, offset = clamp(limit, offset)
	rows, err := r.db.Query(ctx, `
    SELECT `+orderCols+` FROM orders
    WHERE COALESCE(user_id, 'session:' || session_id) = $1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, ownerKey, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *PGRepo) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error) {
	limit, offset = clamp(limit, offset)
	rows, err := r.db.Query(ctx, `
    SELECT `+orderCols+` FROM orders WHERE status=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *PGRepo) UpdateStatusCAS(ctx context.Context, id string, from, to Status, rejectionReason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $3, rejection_reason = NULLIF($4,''), updated_at = NOW()
    WHERE id = $1 AND status = $2
  `, id, from, to, rejectionReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// distinguish a lost race from a missing row
		var cur Status
		if qerr := r.db.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&cur); qerr != nil {
			return ErrNotFound
		}
		return ErrStatusChanged
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func clamp(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
