// README: Benchmark cases for the ordering API: environment, checkout, promotions, streams, concurrency and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"kottu/internal/modules/order"
	"kottu/internal/modules/promotion"
	"kottu/internal/types"
	"kottu/migrations"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

var benchTables = []string{
	"orders", "order_items", "order_state_events",
	"promotions", "promotion_codes", "promotion_usage",
}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// orderID is the order created by the first checkout case; later cases read it.
	orderID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) restaurantURL(path string) string {
	return r.cfg.BaseURL + "/api/restaurants/" + r.cfg.Restaurant + path
}

func takeoutOrder(phone string, extra map[string]any) map[string]any {
	body := map[string]any{
		"order_type":    "takeout",
		"customer_info": map[string]any{"name": "Bench Customer", "phone": phone},
		"items": []map[string]any{
			{"menu_item_id": "chicken-kottu", "name": "Chicken kottu", "unit_price": 1500, "quantity": 2},
			{"menu_item_id": "faluda", "name": "Faluda", "unit_price": 600, "quantity": 1},
		},
		"tax": 360,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured; server runs in-process realtime"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				if err := migrations.Apply(ctx, r.db); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				for _, t := range benchTables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		httpCase("API: health", http.MethodGet, r.cfg.BaseURL+"/health", nil, http.StatusOK),

		// Checkout
		{
			Name: "Order: create takeout (valid)",
			Run: func(ctx context.Context, r *Runner) Result {
				var placed struct {
					Order order.Order `json:"order"`
				}
				res := r.do(ctx, http.MethodPost, r.restaurantURL("/orders"), takeoutOrder("+94770000001", nil), &placed, http.StatusCreated)
				if res.Status == StatusPass {
					r.orderID = string(placed.Order.ID)
					res.Note += " order=" + placed.Order.Number
					if placed.Order.Total != placed.Order.ExpectedTotal() {
						res.Status, res.Note = StatusFail, fmt.Sprintf("total %d != expected %d", placed.Order.Total, placed.Order.ExpectedTotal())
					}
				}
				return res
			},
		},
		httpCase("Order: create without items -> 400", http.MethodPost, r.restaurantURL("/orders"), map[string]any{
			"order_type":    "takeout",
			"customer_info": map[string]any{"name": "Bench Customer", "phone": "+94770000002"},
		}, http.StatusBadRequest),
		httpCase("Order: delivery without address -> 400", http.MethodPost, r.restaurantURL("/orders"),
			takeoutOrder("+94770000003", map[string]any{"order_type": "delivery"}), http.StatusBadRequest),
		r.orderCase("Order: get created order", "", http.StatusOK),
		r.orderCase("Order: timeline", "/timeline", http.StatusOK),
		httpCase("Order: unknown id -> 404", http.MethodGet, r.restaurantURL("/orders/"+types.NewID().String()), nil, http.StatusNotFound),
		httpCase("Staff: advance without token -> 401", http.MethodPost, r.restaurantURL("/orders/any/advance"),
			map[string]any{"expected_status": "pending"}, http.StatusUnauthorized),
		manualCase("Staff: advance and kitchen board", "needs a Firebase staff token"),

		// Promotions
		httpCase("Promotion: unknown code is reported, not rejected", http.MethodPost, r.restaurantURL("/checkout/validate-code"), map[string]any{
			"code":         "NO-SUCH-CODE",
			"order_amount": 3600,
		}, http.StatusOK),
		httpCase("Promotion: auto-apply preview", http.MethodPost, r.restaurantURL("/checkout/auto-apply"), map[string]any{
			"order_amount": 3600,
			"items":        []map[string]any{{"menu_item_id": "chicken-kottu", "unit_price": 1500, "quantity": 2}},
		}, http.StatusOK),

		// Realtime
		{
			Name: "Realtime: order stream opens",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.orderID == "" {
					return Result{Status: StatusSkip, Note: "no order created"}
				}
				return r.openStream(ctx, r.restaurantURL("/orders/"+r.orderID+"/live"))
			},
		},

		// Concurrency
		{
			Name: "Concurrency: last use of a code redeems once",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRedeem(ctx, r)
			},
		},

		// Performance
		{
			Name: "Perf: checkout throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, r.restaurantURL("/orders"), func(i int) any {
					return takeoutOrder(fmt.Sprintf("+9477%07d", i), nil)
				})
			},
		},
		{
			Name: "Perf: code validation throughput (rate limited)",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, r.restaurantURL("/checkout/validate-code"), func(int) any {
					return map[string]any{"code": "NO-SUCH-CODE", "order_amount": 3600}
				})
			},
		},
	}
}

func (r *Runner) orderCase(name, suffix string, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return Result{Status: StatusSkip, Note: "no order created"}
			}
			return r.do(ctx, http.MethodGet, r.restaurantURL("/orders/"+r.orderID+suffix), nil, nil, want)
		},
	}
}

func httpCase(name, method, url string, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return r.do(ctx, method, url, body, nil, want)
		},
	}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: StatusSkip, Note: note}
		},
	}
}

// do sends body as JSON and decodes the response into out when the status matches.
func (r *Runner) do(ctx context.Context, method, url string, body, out any, want int) Result {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	note := fmt.Sprintf("status=%d", resp.StatusCode)
	if resp.StatusCode != want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{Status: StatusFail, Latency: latency, Note: note}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Result{Status: StatusFail, Latency: latency, Note: "decode: " + err.Error()}
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return Result{Status: StatusPass, Latency: latency, Note: note}
}

func (r *Runner) openStream(ctx context.Context, url string) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	start := time.Now()
	// The shared client's timeout would cut the stream; headers are all we wait for.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(ct, "text/event-stream") {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d content-type=%q", resp.StatusCode, ct)}
	}
	return Result{Status: StatusPass, Latency: latency}
}

// seedLimitedCode creates an active fixed-amount promotion with a single use
// and returns its code.
func (r *Runner) seedLimitedCode(ctx context.Context) (string, error) {
	tenantID := types.ID(r.cfg.Restaurant)
	svc := promotion.NewService(promotion.NewStore(r.db), promotion.Deps{Customers: order.NewStore(r.db)})
	amount, limit := int64(100), 1
	p, err := svc.Create(ctx, promotion.Promotion{
		TenantID:        tenantID,
		Name:            "bench last use",
		Type:            promotion.TypeFixedAmount,
		DiscountAmount:  &amount,
		TotalUsageLimit: &limit,
		RequiresCode:    true,
	})
	if err != nil {
		return "", fmt.Errorf("create promotion: %w", err)
	}
	code := "BENCH" + strings.ToUpper(strings.ReplaceAll(types.NewID().String(), "-", "")[:8])
	if _, err := svc.CreateCode(ctx, promotion.CodeCommand{TenantID: tenantID, PromotionID: p.ID, Code: code}); err != nil {
		return "", fmt.Errorf("create code: %w", err)
	}
	if _, err := svc.Activate(ctx, tenantID, p.ID); err != nil {
		return "", fmt.Errorf("activate: %w", err)
	}
	return code, nil
}

func concurrentRedeem(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	code, err := r.seedLimitedCode(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
		other    []int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := json.Marshal(takeoutOrder(fmt.Sprintf("+9471%07d", i), map[string]any{"promo_code": code}))
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.restaurantURL("/orders"), bytes.NewReader(b))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			mu.Lock()
			defer mu.Unlock()
			switch resp.StatusCode {
			case http.StatusCreated:
				created++
			case http.StatusUnprocessableEntity:
				rejected++
			default:
				other = append(other, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("created=%d rejected=%d other=%v", created, rejected, other)
	if created == 1 && len(other) == 0 {
		return Result{Status: StatusPass, Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, url string, payload func(i int) any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		count    int64
		errCount int64
		limited  int64
		seq      int
	)
	next := func() int {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return seq
	}
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				b, _ := json.Marshal(payload(next()))
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				count++
				if resp.StatusCode == http.StatusTooManyRequests {
					limited++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d throttled=%d", rps, errCount, limited)}
}
