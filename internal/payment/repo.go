package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinehq/mesa/internal/order"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrOrderNotBillable: an order in the set is missing, not owned by
	// the payer or not served.
	ErrOrderNotBillable = errors.New("order not billable")
	// ErrOrderAlreadyBilled: an order in the set is already linked to a
	// pending or completed payment.
	ErrOrderAlreadyBilled = errors.New("order already billed")
	// ErrAlreadyCompleted: the payment settled before this attempt; the
	// caller treats this as an idempotent no-op.
	ErrAlreadyCompleted = errors.New("payment already completed")
	// ErrNotSettleable: the payment is refunded or otherwise not in a
	// settleable status.
	ErrNotSettleable = errors.New("payment not settleable")
	// ErrOrderSettledElsewhere: a linked order settled under a different
	// payment in the meantime.
	ErrOrderSettledElsewhere = errors.New("order settled under another payment")
)

type Repository interface {
	// CreateWithLinks persists the payment and one link per order after
	// re-validating, under row locks, that every order belongs to the
	// payer, is served and is not linked to a pending or completed
	// payment. All-or-nothing. The payment total and per-link amounts
	// are snapshotted from the locked rows.
	CreateWithLinks(ctx context.Context, p *Payment, orderIDs []string) ([]OrderLink, error)
	GetByID(ctx context.Context, id string) (*Payment, []OrderLink, error)
	GetByIntentID(ctx context.Context, intentID string) (*Payment, []OrderLink, error)
	// ListBillable returns the payer's served orders minus those linked
	// to a pending or completed payment.
	ListBillable(ctx context.Context, ownerKey string) ([]order.Order, error)
	// SetIntentID stores the processor intent handle; pending or failed
	// payments only.
	SetIntentID(ctx context.Context, paymentID, intentID string) error
	// Complete atomically marks the payment completed, settles every
	// link and moves the linked served orders to completed. Returns the
	// orders it completed.
	Complete(ctx context.Context, paymentID, processedBy, notes string) ([]order.Order, error)
	MarkFailed(ctx context.Context, paymentID string, reason DeclineReason) error
	// ListPending lists pending payments, skipping any whose linked
	// orders have all independently reached a terminal status.
	ListPending(ctx context.Context, limit, offset int) ([]Payment, error)
	// ListPendingWithIntents feeds the reconciliation sweep.
	ListPendingWithIntents(ctx context.Context) ([]Payment, error)
	GetProcessorCustomer(ctx context.Context, ownerKey string) (string, error)
	SaveProcessorCustomer(ctx context.Context, ownerKey, customerID string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const paymentCols = `id, COALESCE(user_id,''), COALESCE(session_id,''), COALESCE(table_id,''), total_amount::text,
    method, status, COALESCE(processor_intent_id,''), COALESCE(processed_by,''), COALESCE(failure_reason,''),
    COALESCE(notes,''), created_at, updated_at`

func scanPayment(row pgx.Row, p *Payment) error {
	return row.Scan(&p.ID, &p.UserID, &p.SessionID, &p.TableID, &p.Total, &p.Method, &p.Status,
		&p.IntentID, &p.ProcessedBy, &p.FailureReason, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PGRepo) CreateWithLinks(ctx context.Context, p *Payment, orderIDs []string) ([]OrderLink, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the order rows so concurrent billing attempts on the same
	// set serialize here.
	rows, err := tx.Query(ctx, `
    SELECT id, COALESCE(user_id, 'session:' || session_id), status, total_amount::text
    FROM orders WHERE id = ANY($1)
    FOR UPDATE
  `, orderIDs)
	if err != nil {
		return nil, err
	}
	type lockedOrder struct {
		owner  string
		status order.Status
		total  string
	}
	locked := map[string]lockedOrder{}
	for rows.Next() {
		var id string
		var lo lockedOrder
		if err := rows.Scan(&id, &lo.owner, &lo.status, &lo.total); err != nil {
			rows.Close()
			return nil, err
		}
		locked[id] = lo
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ownerKey := p.OwnerKey()
	links := make([]OrderLink, 0, len(orderIDs))
	for _, id := range orderIDs {
		lo, ok := locked[id]
		if !ok {
			return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotBillable)
		}
		if lo.owner != ownerKey || lo.status != order.StatusServed {
			return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotBillable)
		}
		links = append(links, OrderLink{OrderID: id, Amount: lo.total})
	}

	// Reject any order already tied to a live payment.
	var billed string
	err = tx.QueryRow(ctx, `
    SELECT po.order_id
    FROM payment_orders po
    JOIN payments pay ON pay.id = po.payment_id
    WHERE po.order_id = ANY($1) AND pay.status IN ('pending','completed')
    LIMIT 1
  `, orderIDs).Scan(&billed)
	if err == nil {
		return nil, fmt.Errorf("order %s: %w", billed, ErrOrderAlreadyBilled)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var total string
	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(total_amount),0)::text FROM orders WHERE id = ANY($1)`, orderIDs).Scan(&total)
	if err != nil {
		return nil, err
	}
	p.Total = total

	if err := scanPayment(tx.QueryRow(ctx, `
    INSERT INTO payments (id, user_id, session_id, table_id, total_amount, method, status, notes, created_at, updated_at)
    VALUES ($1,NULLIF($2,''),NULLIF($3,''),NULLIF($4,''),$5,$6,$7,NULLIF($8,''),NOW(),NOW())
    RETURNING `+paymentCols+`
  `, p.ID, p.UserID, p.SessionID, p.TableID, p.Total, p.Method, p.Status, p.Notes), p); err != nil {
		return nil, err
	}

	for i := range links {
		links[i].PaymentID = p.ID
		if _, err := tx.Exec(ctx, `
      INSERT INTO payment_orders (payment_id, order_id, amount)
      VALUES ($1,$2,$3)
    `, p.ID, links[i].OrderID, links[i].Amount); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return links, nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Payment, []OrderLink, error) {
	return r.getWhere(ctx, `id=$1`, id)
}

func (r *PGRepo) GetByIntentID(ctx context.Context, intentID string) (*Payment, []OrderLink, error) {
	return r.getWhere(ctx, `processor_intent_id=$1`, intentID)
}

func (r *PGRepo) getWhere(ctx context.Context, cond string, arg any) (*Payment, []OrderLink, error) {
	var p Payment
	if err := scanPayment(r.db.QueryRow(ctx, `
    SELECT `+paymentCols+` FROM payments WHERE `+cond, arg), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	links, err := r.links(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	return &p, links, nil
}

func (r *PGRepo) links(ctx context.Context, paymentID string) ([]OrderLink, error) {
	rows, err := r.db.Query(ctx, `
    SELECT payment_id, order_id, amount::text, settled
    FROM payment_orders WHERE payment_id=$1
  `, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderLink
	for rows.Next() {
		var l OrderLink
		if err := rows.Scan(&l.PaymentID, &l.OrderID, &l.Amount, &l.Settled); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListBillable(ctx context.Context, ownerKey string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, `
    SELECT o.id, COALESCE(o.user_id,''), COALESCE(o.session_id,''), o.table_id, o.status,
           o.total_amount::text, COALESCE(o.special_instructions,''), COALESCE(o.rejection_reason,''),
           o.created_at, o.updated_at
    FROM orders o
    WHERE COALESCE(o.user_id, 'session:' || o.session_id) = $1
      AND o.status = 'served'
      AND NOT EXISTS (
        SELECT 1 FROM payment_orders po
        JOIN payments pay ON pay.id = po.payment_id
        WHERE po.order_id = o.id AND pay.status IN ('pending','completed')
      )
    ORDER BY o.created_at
  `, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.SessionID, &o.TableID, &o.Status, &o.Total,
			&o.SpecialInstructions, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepo) SetIntentID(ctx context.Context, paymentID, intentID string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE payments SET processor_intent_id=$2, updated_at=NOW()
    WHERE id=$1 AND status IN ('pending','failed')
  `, paymentID, intentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Complete(ctx context.Context, paymentID, processedBy, notes string) ([]order.Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Flip the payment first; the row lock serializes duplicate
	// confirmations and the second one sees zero rows affected.
	tag, err := tx.Exec(ctx, `
    UPDATE payments
    SET status='completed', processed_by=NULLIF($2,''), notes=COALESCE(NULLIF($3,''), notes),
        failure_reason=NULL, updated_at=NOW()
    WHERE id=$1 AND status IN ('pending','failed')
  `, paymentID, processedBy, notes)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var st Status
		if qerr := r.db.QueryRow(ctx, `SELECT status FROM payments WHERE id=$1`, paymentID).Scan(&st); qerr != nil {
			return nil, ErrNotFound
		}
		if st == StatusCompleted {
			return nil, ErrAlreadyCompleted
		}
		return nil, ErrNotSettleable
	}

	// The partial unique index uq_payment_orders_settled fires here if
	// any linked order already settled under another payment.
	if _, err := tx.Exec(ctx, `
    UPDATE payment_orders SET settled=TRUE WHERE payment_id=$1
  `, paymentID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrOrderSettledElsewhere
		}
		return nil, err
	}

	rows, err := tx.Query(ctx, `
    UPDATE orders SET status='completed', updated_at=NOW()
    WHERE id IN (SELECT order_id FROM payment_orders WHERE payment_id=$1)
      AND status='served'
    RETURNING id, COALESCE(user_id,''), COALESCE(session_id,''), table_id, status,
              total_amount::text, COALESCE(special_instructions,''), COALESCE(rejection_reason,''),
              created_at, updated_at
  `, paymentID)
	if err != nil {
		return nil, err
	}
	var completed []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.SessionID, &o.TableID, &o.Status, &o.Total,
			&o.SpecialInstructions, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		completed = append(completed, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return completed, nil
}

func (r *PGRepo) MarkFailed(ctx context.Context, paymentID string, reason DeclineReason) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE payments SET status='failed', failure_reason=$2, updated_at=NOW()
    WHERE id=$1 AND status IN ('pending','failed')
  `, paymentID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ListPending(ctx context.Context, limit, offset int) ([]Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
    SELECT `+paymentCols+` FROM payments p
    WHERE p.status='pending'
      AND EXISTS (
        SELECT 1 FROM payment_orders po
        JOIN orders o ON o.id = po.order_id
        WHERE po.payment_id = p.id AND o.status NOT IN ('completed','cancelled')
      )
    ORDER BY p.created_at DESC LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *PGRepo) ListPendingWithIntents(ctx context.Context) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
    SELECT `+paymentCols+` FROM payments p
    WHERE p.status='pending' AND p.processor_intent_id IS NOT NULL
    ORDER BY p.created_at
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *PGRepo) GetProcessorCustomer(ctx context.Context, ownerKey string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `
    SELECT processor_customer_id FROM processor_customers WHERE payer_key=$1
  `, ownerKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (r *PGRepo) SaveProcessorCustomer(ctx context.Context, ownerKey, customerID string) error {
	_, err := r.db.Exec(ctx, `
    INSERT INTO processor_customers (payer_key, processor_customer_id, created_at)
    VALUES ($1,$2,NOW())
    ON CONFLICT (payer_key) DO UPDATE SET processor_customer_id = EXCLUDED.processor_customer_id
  `, ownerKey, customerID)
	return err
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
