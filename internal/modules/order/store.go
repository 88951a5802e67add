// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kottu/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, restaurant_id, order_number, order_type, status, status_version, currency,
	subtotal, tax, delivery_fee, tip, discount, total, payment_status,
	customer_info, delivery_address, notes,
	created_at, updated_at, estimated_ready_time, actual_ready_time, delivered_at`

// Create inserts the order, its items, and the initial state event atomically.
func (s *Store) Create(ctx context.Context, o *Order, ev *Event) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17, $18, $19, $20, $21, $22)`,
			string(o.ID), string(o.TenantID), o.Number, string(o.Type), string(o.Status), o.StatusVersion, o.Currency,
			o.Subtotal, o.Tax, o.DeliveryFee, o.Tip, o.Discount, o.Total, string(o.PaymentStatus),
			o.Customer, o.DeliveryAddress, o.Notes,
			o.CreatedAt, o.UpdatedAt, o.EstimatedReady, o.ActualReady, o.DeliveredAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (
					id, order_id, menu_item_id, category_id, name, unit_price, quantity, note, customizations
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				string(it.ID), string(o.ID), string(it.MenuItemID), nullableID(it.CategoryID),
				it.Name, it.UnitPrice, it.Quantity, it.Note, it.Customizations,
			)
		}
		if ev != nil {
			batch.Queue(insertEventSQL, eventArgs(ev)...)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, tenantID, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND restaurant_id = $2`,
		string(id), string(tenantID))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, menu_item_id, COALESCE(category_id, ''), name, unit_price, quantity, note, customizations
		FROM order_items
		WHERE order_id = $1
		ORDER BY name, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.CategoryID, &it.Name,
			&it.UnitPrice, &it.Quantity, &it.Note, &it.Customizations); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// UpdateParams is a conditional write: it only applies while the row still has
// status From at StatusVersion Version.
type UpdateParams struct {
	ID             types.ID
	TenantID       types.ID
	From           Status
	Version        int
	To             Status
	EstimatedReady *time.Time
	Notes          *string
	// Event, when set, is appended to the state ledger in the same transaction.
	Event *Event
}

// ApplyUpdate returns false when the optimistic check fails. The row update
// and its ledger entry commit together or not at all.
func (s *Store) ApplyUpdate(ctx context.Context, p UpdateParams) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		ok, err := applyUpdate(ctx, tx, p)
		if err != nil || !ok {
			return err
		}
		if p.Event != nil {
			if _, err := tx.Exec(ctx, insertEventSQL, eventArgs(p.Event)...); err != nil {
				return fmt.Errorf("append state event: %w", err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

func applyUpdate(ctx context.Context, tx pgx.Tx, p UpdateParams) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    estimated_ready_time = COALESCE($2, estimated_ready_time),
		    notes = COALESCE($3, notes),
		    actual_ready_time = CASE WHEN $1 = 'ready' AND actual_ready_time IS NULL THEN NOW() ELSE actual_ready_time END,
		    delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
		    payment_status = CASE WHEN $1 = 'refunded' THEN 'refunded' ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $4 AND restaurant_id = $5 AND status = $6 AND status_version = $7`,
		string(p.To),
		p.EstimatedReady,
		p.Notes,
		string(p.ID),
		string(p.TenantID),
		string(p.From),
		p.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const insertEventSQL = `
	INSERT INTO order_state_events (
		order_id, from_status, to_status, actor_type, actor_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6)`

func eventArgs(e *Event) []any {
	return []any{
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	}
}

func (s *Store) ListEvents(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY created_at, id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByStatuses returns the tenant's orders in the given statuses, oldest first.
func (s *Store) ListByStatuses(ctx context.Context, tenantID types.ID, statuses []Status) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1 AND status = ANY($2)
		ORDER BY created_at, id`, string(tenantID), statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// ListActive returns active orders across every tenant, for the urgency monitor.
func (s *Store) ListActive(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at, id`, statusStrings(ActiveStatuses))
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) CountActive(ctx context.Context, tenantID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND status = ANY($2)`,
		string(tenantID), statusStrings(ActiveStatuses),
	).Scan(&n)
	return n, err
}

// CountCustomerOrders counts the customer's non-canceled orders at the tenant.
// customerID matches the account id, email, or phone in customer_info.
func (s *Store) CountCustomerOrders(ctx context.Context, tenantID types.ID, customerID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE restaurant_id = $1
		  AND status NOT IN ('canceled', 'refunded')
		  AND $2 IN (customer_info->>'id', customer_info->>'email', customer_info->>'phone')`,
		string(tenantID), customerID,
	).Scan(&n)
	return n, err
}

// Metrics aggregates every order created since the given instant.
func (s *Store) Metrics(ctx context.Context, since time.Time) (Metrics, error) {
	m := Metrics{Since: since, ByStatus: map[Status]int{}}
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*)::int,
		       COALESCE(SUM(total) FILTER (WHERE status NOT IN ('canceled', 'refunded')), 0)::bigint
		FROM orders
		WHERE created_at >= $1
		GROUP BY status`, since)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var st Status
		var n int
		var revenue int64
		if err := rows.Scan(&st, &n, &revenue); err != nil {
			return m, err
		}
		m.ByStatus[st] = n
		m.TotalOrders += n
		m.Revenue += revenue
		if IsActive(st) {
			m.ActiveOrders += n
		}
	}
	return m, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.TenantID, &o.Number, &o.Type, &o.Status, &o.StatusVersion, &o.Currency,
		&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Tip, &o.Discount, &o.Total, &o.PaymentStatus,
		&o.Customer, &o.DeliveryAddress, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.EstimatedReady, &o.ActualReady, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func nullableID(v types.ID) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
