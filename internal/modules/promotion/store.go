// README: Promotion store backed by PostgreSQL.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"kottu/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// querier is the part of pgxpool.Pool and pgx.Tx the reads need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const promotionColumns = `
	id, restaurant_id, name, description, promotion_type, scope,
	discount_percentage::text, discount_amount, max_discount_amount,
	buy_quantity, get_quantity, get_discount_percentage::text,
	target_item_ids, target_category_ids, min_order_amount, min_items,
	total_usage_limit, per_customer_limit, usage_frequency,
	valid_from, valid_until, days_of_week, start_hour, end_hour,
	customer_segment, is_stackable, priority, auto_apply, requires_code,
	status, total_uses, total_discount_given, created_at, updated_at`

const codeColumns = `
	id, promotion_id, restaurant_id, code, is_active, usage_limit, current_usage,
	valid_from, valid_until, created_at`

func (s *Store) Insert(ctx context.Context, p *Promotion) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promotions (
			id, restaurant_id, name, description, promotion_type, scope,
			discount_percentage, discount_amount, max_discount_amount,
			buy_quantity, get_quantity, get_discount_percentage,
			target_item_ids, target_category_ids, min_order_amount, min_items,
			total_usage_limit, per_customer_limit, usage_frequency,
			valid_from, valid_until, days_of_week, start_hour, end_hour,
			customer_segment, is_stackable, priority, auto_apply, requires_code,
			status, total_uses, total_discount_given, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12::numeric,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24,
			$25, $26, $27, $28, $29, $30, $31, $32, $33, $34
		)`,
		string(p.ID), string(p.TenantID), p.Name, p.Description, string(p.Type), string(p.Scope),
		decimalArg(p.DiscountPercentage), p.DiscountAmount, p.MaxDiscountAmount,
		p.BuyQuantity, p.GetQuantity, decimalArg(p.GetDiscountPercentage),
		idStrings(p.TargetItemIDs), idStrings(p.TargetCategoryIDs), p.MinOrderAmount, p.MinItems,
		p.TotalUsageLimit, p.PerCustomerLimit, string(p.UsageFrequency),
		p.ValidFrom, p.ValidUntil, intsOrEmpty(p.DaysOfWeek), p.StartHour, p.EndHour,
		string(p.Segment), p.Stackable, p.Priority, p.AutoApply, p.RequiresCode,
		string(p.Status), p.TotalUses, p.TotalDiscountGiven, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) InsertCode(ctx context.Context, c *Code) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promotion_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(c.ID), string(c.PromotionID), string(c.TenantID), c.Code, c.Active,
		c.UsageLimit, c.CurrentUsage, c.ValidFrom, c.ValidUntil, c.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCodeDuplicate
	}
	return err
}

func (s *Store) Get(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return getPromotion(ctx, s.db, tenantID, id, "")
}

// GetCode matches the code case-insensitively within the tenant.
func (s *Store) GetCode(ctx context.Context, tenantID types.ID, code string) (*Code, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+codeColumns+`
		FROM promotion_codes
		WHERE restaurant_id = $1 AND upper(code) = upper($2)`,
		string(tenantID), code)
	c, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Store) List(ctx context.Context, tenantID types.ID) ([]*Promotion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE restaurant_id = $1
		ORDER BY priority DESC, created_at`, string(tenantID))
	if err != nil {
		return nil, err
	}
	return collectPromotions(rows)
}

func (s *Store) ListAutoApply(ctx context.Context, tenantID types.ID) ([]*Promotion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE restaurant_id = $1 AND status = 'active' AND auto_apply
		ORDER BY priority DESC, id`, string(tenantID))
	if err != nil {
		return nil, err
	}
	return collectPromotions(rows)
}

func (s *Store) CountCustomerUses(ctx context.Context, promotionID types.ID, customerID string, since time.Time) (int, error) {
	return countCustomerUses(ctx, s.db, promotionID, customerID, since)
}

// WithTx runs fn in one transaction. Rows read through LockPromotion and
// LockCode stay locked until fn returns.
func (s *Store) WithTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockPromotion(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return getPromotion(ctx, t.tx, tenantID, id, " FOR UPDATE")
}

func (t *pgTx) LockCode(ctx context.Context, tenantID, id types.ID) (*Code, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+codeColumns+`
		FROM promotion_codes
		WHERE id = $1 AND restaurant_id = $2
		FOR UPDATE`, string(id), string(tenantID))
	c, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (t *pgTx) CountCustomerUses(ctx context.Context, promotionID types.ID, customerID string, since time.Time) (int, error) {
	return countCustomerUses(ctx, t.tx, promotionID, customerID, since)
}

// IncrementUses bumps the counters only while the usage limit has room; false
// means the limit was already reached.
func (t *pgTx) IncrementUses(ctx context.Context, id types.ID, discount int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE promotions
		SET total_uses = total_uses + 1,
		    total_discount_given = total_discount_given + $2,
		    updated_at = NOW()
		WHERE id = $1 AND (total_usage_limit IS NULL OR total_uses < total_usage_limit)`,
		string(id), discount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) IncrementCodeUse(ctx context.Context, id types.ID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE promotion_codes
		SET current_usage = current_usage + 1
		WHERE id = $1 AND (usage_limit IS NULL OR current_usage < usage_limit)`,
		string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertUsage(ctx context.Context, u *Usage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO promotion_usage (
			id, promotion_id, code_id, order_id, restaurant_id, customer_id, session_id,
			discount_amount, order_total_before, order_total_after, used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(u.ID), string(u.PromotionID), idPtr(u.CodeID), string(u.OrderID), string(u.TenantID),
		nullString(u.CustomerID), nullString(u.SessionID),
		u.DiscountAmount, u.OrderTotalBefore, u.OrderTotalAfter, u.UsedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyUsed
	}
	return err
}

// ReleaseUsage marks the live usage of promotionID by orderID as released.
func (t *pgTx) ReleaseUsage(ctx context.Context, promotionID, orderID types.ID) (*Usage, error) {
	var u Usage
	var codeID, customerID, sessionID *string
	err := t.tx.QueryRow(ctx, `
		UPDATE promotion_usage
		SET released_at = NOW()
		WHERE promotion_id = $1 AND order_id = $2 AND released_at IS NULL
		RETURNING id, promotion_id, code_id, order_id, restaurant_id, customer_id, session_id,
		          discount_amount, order_total_before, order_total_after, used_at, released_at`,
		string(promotionID), string(orderID),
	).Scan(&u.ID, &u.PromotionID, &codeID, &u.OrderID, &u.TenantID, &customerID, &sessionID,
		&u.DiscountAmount, &u.OrderTotalBefore, &u.OrderTotalAfter, &u.UsedAt, &u.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if codeID != nil {
		id := types.ID(*codeID)
		u.CodeID = &id
	}
	u.CustomerID = deref(customerID)
	u.SessionID = deref(sessionID)
	return &u, nil
}

func (t *pgTx) DecrementUses(ctx context.Context, id types.ID, discount int64, codeID *types.ID) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE promotions
		SET total_uses = GREATEST(total_uses - 1, 0),
		    total_discount_given = GREATEST(total_discount_given - $2, 0),
		    updated_at = NOW()
		WHERE id = $1`, string(id), discount); err != nil {
		return err
	}
	if codeID == nil {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE promotion_codes SET current_usage = GREATEST(current_usage - 1, 0) WHERE id = $1`,
		string(*codeID))
	return err
}

func (t *pgTx) SetStatus(ctx context.Context, id types.ID, st Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE promotions SET status = $2, updated_at = NOW() WHERE id = $1`,
		string(id), string(st))
	return err
}

func getPromotion(ctx context.Context, q querier, tenantID, id types.ID, suffix string) (*Promotion, error) {
	row := q.QueryRow(ctx, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE id = $1 AND restaurant_id = $2`+suffix, string(id), string(tenantID))
	p, err := scanPromotion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func countCustomerUses(ctx context.Context, q querier, promotionID types.ID, customerID string, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM promotion_usage
		WHERE promotion_id = $1 AND customer_id = $2 AND used_at >= $3 AND released_at IS NULL`,
		string(promotionID), customerID, since,
	).Scan(&n)
	return n, err
}

func scanPromotion(row pgx.Row) (*Promotion, error) {
	var p Promotion
	var pct, getPct *string
	var items, categories []string
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Type, &p.Scope,
		&pct, &p.DiscountAmount, &p.MaxDiscountAmount,
		&p.BuyQuantity, &p.GetQuantity, &getPct,
		&items, &categories, &p.MinOrderAmount, &p.MinItems,
		&p.TotalUsageLimit, &p.PerCustomerLimit, &p.UsageFrequency,
		&p.ValidFrom, &p.ValidUntil, &p.DaysOfWeek, &p.StartHour, &p.EndHour,
		&p.Segment, &p.Stackable, &p.Priority, &p.AutoApply, &p.RequiresCode,
		&p.Status, &p.TotalUses, &p.TotalDiscountGiven, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.DiscountPercentage, err = parseDecimal(pct); err != nil {
		return nil, fmt.Errorf("discount_percentage: %w", err)
	}
	if p.GetDiscountPercentage, err = parseDecimal(getPct); err != nil {
		return nil, fmt.Errorf("get_discount_percentage: %w", err)
	}
	p.TargetItemIDs = toIDs(items)
	p.TargetCategoryIDs = toIDs(categories)
	return &p, nil
}

func collectPromotions(rows pgx.Rows) ([]*Promotion, error) {
	defer rows.Close()
	var out []*Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanCode(row pgx.Row) (*Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.PromotionID, &c.TenantID, &c.Code, &c.Active, &c.UsageLimit,
		&c.CurrentUsage, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toIDs(ss []string) []types.ID {
	if len(ss) == 0 {
		return nil
	}
	out := make([]types.ID, len(ss))
	for i, s := range ss {
		out[i] = types.ID(s)
	}
	return out
}

func intsOrEmpty(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
