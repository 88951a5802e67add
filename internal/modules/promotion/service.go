// README: Promotion service: administration, code validation, and atomic redemption.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kottu/internal/modules/order"
	"kottu/internal/types"
)

type Repository interface {
	Insert(ctx context.Context, p *Promotion) error
	InsertCode(ctx context.Context, c *Code) error
	Get(ctx context.Context, tenantID, id types.ID) (*Promotion, error)
	GetCode(ctx context.Context, tenantID types.ID, code string) (*Code, error)
	List(ctx context.Context, tenantID types.ID) ([]*Promotion, error)
	ListAutoApply(ctx context.Context, tenantID types.ID) ([]*Promotion, error)
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the locked view used by every promotion write.
type Tx interface {
	LockPromotion(ctx context.Context, tenantID, id types.ID) (*Promotion, error)
	LockCode(ctx context.Context, tenantID, id types.ID) (*Code, error)
	CountCustomerUses(ctx context.Context, promotionID types.ID, customerID string, since time.Time) (int, error)
	IncrementUses(ctx context.Context, id types.ID, discount int64) (bool, error)
	IncrementCodeUse(ctx context.Context, id types.ID) (bool, error)
	InsertUsage(ctx context.Context, u *Usage) error
	ReleaseUsage(ctx context.Context, promotionID, orderID types.ID) (*Usage, error)
	DecrementUses(ctx context.Context, id types.ID, discount int64, codeID *types.ID) error
	SetStatus(ctx context.Context, id types.ID, st Status) error
}

// CustomerHistory answers the new/returning segment question.
type CustomerHistory interface {
	CountCustomerOrders(ctx context.Context, tenantID types.ID, customerID string) (int, error)
}

type Deps struct {
	Customers CustomerHistory
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	repo      Repository
	customers CustomerHistory
	log       *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, deps Deps) *Service {
	s := &Service{repo: repo, customers: deps.Customers, log: deps.Logger, now: deps.Now}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "promotion")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create stores p as a draft after defaulting and checking its definition.
func (s *Service) Create(ctx context.Context, p Promotion) (*Promotion, error) {
	now := s.now()
	p.ID = types.NewID()
	p.Status = StatusDraft
	p.TotalUses = 0
	p.TotalDiscountGiven = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Scope == "" {
		p.Scope = ScopeOrderTotal
	}
	if p.UsageFrequency == "" {
		p.UsageFrequency = FrequencyOnce
	}
	if p.Segment == "" {
		p.Segment = SegmentAll
	}
	if res := ValidateDefinition(&p); !res.Valid {
		return nil, &order.ValidationError{Result: res}
	}
	if err := s.repo.Insert(ctx, &p); err != nil {
		return nil, err
	}
	s.log.Info("promotion created", "promotion_id", p.ID, "tenant_id", p.TenantID, "type", p.Type)
	return &p, nil
}

type CodeCommand struct {
	TenantID    types.ID
	PromotionID types.ID
	Code        string
	UsageLimit  *int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

func (s *Service) CreateCode(ctx context.Context, cmd CodeCommand) (*Code, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrBadRequest)
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit < 1 {
		return nil, fmt.Errorf("%w: usage_limit must be at least 1", ErrBadRequest)
	}
	if cmd.ValidFrom != nil && cmd.ValidUntil != nil && !cmd.ValidFrom.Before(*cmd.ValidUntil) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrBadRequest)
	}
	if _, err := s.repo.Get(ctx, cmd.TenantID, cmd.PromotionID); err != nil {
		return nil, err
	}
	c := &Code{
		ID:          types.NewID(),
		PromotionID: cmd.PromotionID,
		TenantID:    cmd.TenantID,
		Code:        code,
		Active:      true,
		UsageLimit:  cmd.UsageLimit,
		ValidFrom:   cmd.ValidFrom,
		ValidUntil:  cmd.ValidUntil,
		CreatedAt:   s.now(),
	}
	if err := s.repo.InsertCode(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID types.ID) ([]*Promotion, error) {
	return s.repo.List(ctx, tenantID)
}

func (s *Service) Activate(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return s.transition(ctx, tenantID, id, StatusActive)
}

func (s *Service) Pause(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return s.transition(ctx, tenantID, id, StatusPaused)
}

// Resume is Activate from paused; it is a separate verb for the API.
func (s *Service) Resume(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return s.transition(ctx, tenantID, id, StatusActive)
}

func (s *Service) Cancel(ctx context.Context, tenantID, id types.ID) (*Promotion, error) {
	return s.transition(ctx, tenantID, id, StatusCancelled)
}

// transition applies an explicit status change. The derived status is stored
// first, and again after the change, in the same transaction.
func (s *Service) transition(ctx context.Context, tenantID, id types.ID, to Status) (*Promotion, error) {
	var out *Promotion
	var rejectErr error
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPromotion(ctx, tenantID, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.storeDerived(ctx, tx, p, now); err != nil {
			return err
		}
		out = p

		if !CanTransition(p.Status, to) {
			rejectErr = fmt.Errorf("%w: %s -> %s", ErrInvalidState, p.Status, to)
			return nil
		}
		if to == StatusActive {
			if res := ValidateDefinition(p); !res.Valid {
				rejectErr = &order.ValidationError{Result: res}
				return nil
			}
		}
		from := p.Status
		p.Status = to
		if err := tx.SetStatus(ctx, p.ID, to); err != nil {
			return err
		}
		if err := s.storeDerived(ctx, tx, p, now); err != nil {
			return err
		}
		if to == StatusActive && p.Status != StatusActive {
			rejectErr = fmt.Errorf("%w: promotion is %s", ErrInvalidState, p.Status)
		}
		s.log.Info("promotion status changed", "promotion_id", p.ID, "from", from, "to", p.Status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, rejectErr
}

func (s *Service) storeDerived(ctx context.Context, tx Tx, p *Promotion, now time.Time) error {
	d := Derive(p, now)
	if d == p.Status {
		return nil
	}
	if err := tx.SetStatus(ctx, p.ID, d); err != nil {
		return err
	}
	s.log.Info("promotion status derived", "promotion_id", p.ID, "from", p.Status, "to", d)
	p.Status = d
	return nil
}

type CodeRequest struct {
	TenantID    types.ID
	Code        string
	CustomerID  string
	OrderAmount int64
	DeliveryFee int64
	Items       []LineItem
}

// ValidateCode runs the ordered checks for a code without redeeming it.
func (s *Service) ValidateCode(ctx context.Context, req CodeRequest) (CodeValidation, error) {
	c, err := s.repo.GetCode(ctx, req.TenantID, req.Code)
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonNotFound), nil
	}
	if err != nil {
		return CodeValidation{}, err
	}

	var v CodeValidation
	err = s.repo.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPromotion(ctx, req.TenantID, c.PromotionID)
		if errors.Is(err, ErrNotFound) {
			v = rejected(ReasonNotFound)
			return nil
		}
		if err != nil {
			return err
		}
		in, err := s.checkInput(ctx, tx, p, c, req.TenantID, req.CustomerID, req.OrderAmount, req.Items)
		if err != nil {
			return err
		}
		in.DeliveryFee = req.DeliveryFee
		v = Check(in)
		return nil
	})
	return v, err
}

// checkInput stores the derived status and gathers the counts Check reads.
func (s *Service) checkInput(ctx context.Context, tx Tx, p *Promotion, c *Code, tenantID types.ID, customerID string, amount int64, items []LineItem) (CheckInput, error) {
	now := s.now()
	if err := s.storeDerived(ctx, tx, p, now); err != nil {
		return CheckInput{}, err
	}
	in := CheckInput{
		TenantID:    tenantID,
		Code:        c,
		Promotion:   p,
		CustomerID:  customerID,
		PriorOrders: -1,
		Amount:      amount,
		Items:       items,
		Now:         now,
	}
	if customerID == "" {
		return in, nil
	}
	n, err := tx.CountCustomerUses(ctx, p.ID, customerID, windowStart(p.UsageFrequency, now))
	if err != nil {
		return in, err
	}
	in.CustomerUses = n
	if p.Segment != SegmentAll && s.customers != nil {
		prior, err := s.customers.CountCustomerOrders(ctx, tenantID, customerID)
		if err != nil {
			return in, err
		}
		in.PriorOrders = prior
	}
	return in, nil
}

type RedeemCommand struct {
	TenantID    types.ID
	PromotionID types.ID
	CodeID      *types.ID
	OrderID     types.ID
	CustomerID  string
	SessionID   string
	// OrderAmount is what is left to discount. When earlier promotions on the
	// same order already took their share, BaseAmount carries the full
	// subtotal and eligibility is judged on it.
	OrderAmount int64
	BaseAmount  int64
	// DeliveryFee is the part of the fee not yet waived.
	DeliveryFee int64
	Items       []LineItem
}

type Redemption struct {
	Usage            Usage `json:"usage"`
	Discount         int64 `json:"discount_applied"`
	DeliveryDiscount int64 `json:"delivery_discount"`
	AppliesTo        Scope `json:"applies_to"`
}

// Redeem re-runs the checks on locked rows and records the usage. The counter
// increment is conditional on the limit, so concurrent redemptions of the last
// use cannot both succeed. Rule failures come back as *RuleError.
func (s *Service) Redeem(ctx context.Context, cmd RedeemCommand) (*Redemption, error) {
	var out *Redemption
	var ruleErr *RuleError
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPromotion(ctx, cmd.TenantID, cmd.PromotionID)
		if errors.Is(err, ErrNotFound) {
			ruleErr = newRuleError(ReasonNotFound)
			return nil
		}
		if err != nil {
			return err
		}
		var c *Code
		if cmd.CodeID != nil {
			if c, err = tx.LockCode(ctx, cmd.TenantID, *cmd.CodeID); err != nil {
				if errors.Is(err, ErrNotFound) {
					ruleErr = newRuleError(ReasonNotFound)
					return nil
				}
				return err
			}
		}

		eligibleOn := max(cmd.BaseAmount, cmd.OrderAmount)
		in, err := s.checkInput(ctx, tx, p, c, cmd.TenantID, cmd.CustomerID, eligibleOn, cmd.Items)
		if err != nil {
			return err
		}
		v := Check(in)
		if !v.Valid {
			// Commit so a derived status change is kept.
			ruleErr = &RuleError{Reason: v.Reason, Message: v.Error}
			return nil
		}

		red := &Redemption{AppliesTo: appliesTo(p)}
		if v.Preview != nil {
			red.Discount = v.Preview.DiscountAmount
			red.AppliesTo = v.Preview.AppliesTo
		}
		if eligibleOn != cmd.OrderAmount {
			// Same rule as Stack: minimums were met on the full amount, the
			// discount itself comes off the remainder.
			rest := *p
			rest.MinOrderAmount = 0
			red.Discount = 0
			if res := CalculateDiscount(&rest, cmd.OrderAmount, cmd.Items, in.Now); res.Valid {
				red.Discount = res.DiscountAmount
			}
		}
		if red.AppliesTo == ScopeDeliveryFee || p.Type == TypeFreeDelivery {
			red.AppliesTo = ScopeDeliveryFee
			red.DeliveryDiscount = DeliveryDiscount(p, cmd.DeliveryFee)
		}
		total := red.Discount + red.DeliveryDiscount

		ok, err := tx.IncrementUses(ctx, p.ID, total)
		if err != nil {
			return err
		}
		if !ok {
			ruleErr = newRuleError(ReasonLimitReached)
			return nil
		}
		if c != nil {
			ok, err := tx.IncrementCodeUse(ctx, c.ID)
			if err != nil {
				return err
			}
			if !ok {
				// Roll back the promotion increment with the rest.
				return newRuleError(ReasonLimitReached)
			}
		}

		before := cmd.OrderAmount + cmd.DeliveryFee
		red.Usage = Usage{
			ID:               types.NewID(),
			PromotionID:      p.ID,
			CodeID:           cmd.CodeID,
			OrderID:          cmd.OrderID,
			TenantID:         cmd.TenantID,
			CustomerID:       cmd.CustomerID,
			SessionID:        cmd.SessionID,
			DiscountAmount:   total,
			OrderTotalBefore: before,
			OrderTotalAfter:  before - total,
			UsedAt:           in.Now,
		}
		if err := tx.InsertUsage(ctx, &red.Usage); err != nil {
			return err
		}

		p.TotalUses++
		p.TotalDiscountGiven += total
		if err := s.storeDerived(ctx, tx, p, in.Now); err != nil {
			return err
		}
		out = red
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		s.log.Info("redemption rejected", "promotion_id", cmd.PromotionID, "order_id", cmd.OrderID, "reason", ruleErr.Reason)
		return nil, ruleErr
	}
	s.log.Info("promotion redeemed", "promotion_id", cmd.PromotionID, "order_id", cmd.OrderID, "discount", out.Usage.DiscountAmount)
	return out, nil
}

// Release undoes a redemption whose order was never placed. The usage row is
// marked released rather than removed. Derived statuses are irreversible, so
// an exhausted promotion stays exhausted.
func (s *Service) Release(ctx context.Context, tenantID, promotionID, orderID types.ID) error {
	return s.repo.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockPromotion(ctx, tenantID, promotionID); err != nil {
			return err
		}
		u, err := tx.ReleaseUsage(ctx, promotionID, orderID)
		if err != nil {
			return err
		}
		return tx.DecrementUses(ctx, promotionID, u.DiscountAmount, u.CodeID)
	})
}

// BestAutoApply evaluates the tenant's auto-apply promotions through Stack.
// Customer limits are enforced later, when each applied promotion is redeemed.
func (s *Service) BestAutoApply(ctx context.Context, tenantID types.ID, amount int64, items []LineItem) (StackResult, error) {
	all, err := s.repo.ListAutoApply(ctx, tenantID)
	if err != nil {
		return StackResult{}, err
	}
	now := s.now()
	cands := make([]*Promotion, 0, len(all))
	for _, p := range all {
		if Derive(p, now) != StatusActive || before(now, p.ValidFrom) || !p.InSchedule(now) {
			continue
		}
		cands = append(cands, p)
	}
	return Stack(cands, amount, items, now), nil
}
