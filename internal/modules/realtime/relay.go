// README: Postgres LISTEN/NOTIFY relay that republishes order changes on the broker.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRelay listens on the orders trigger channel and publishes every payload
// to the tenant topic and the platform topic.
type PGRelay struct {
	db      *pgxpool.Pool
	broker  Broker
	channel string
	log     *slog.Logger
	retry   time.Duration
}

func NewPGRelay(db *pgxpool.Pool, broker Broker, channel string, log *slog.Logger) *PGRelay {
	if channel == "" {
		channel = "order_changes"
	}
	if log == nil {
		log = slog.Default()
	}
	return &PGRelay{
		db:      db,
		broker:  broker,
		channel: channel,
		log:     log.With("component", "relay", "channel", channel),
		retry:   2 * time.Second,
	}
}

// Run blocks until ctx is done, re-listening after connection failures.
func (r *PGRelay) Run(ctx context.Context) error {
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn("relay connection lost, retrying", "error", err, "retry_in", r.retry)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retry):
		}
	}
}

func (r *PGRelay) listen(ctx context.Context) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	r.log.Info("relay listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// The session still holds LISTEN; drop it rather than return it to the pool.
			_ = conn.Conn().Close(context.Background())
			return err
		}
		if err := r.Forward(ctx, []byte(n.Payload)); err != nil {
			r.log.Error("relay publish failed", "error", err)
		}
	}
}

// Forward publishes one trigger payload to its tenant topic and the platform topic.
func (r *PGRelay) Forward(ctx context.Context, payload []byte) error {
	c, err := ParseChange(payload)
	if err != nil {
		return err
	}
	if c.TenantID != "" {
		if err := r.broker.Publish(ctx, TenantTopic(c.TenantID), payload); err != nil {
			return fmt.Errorf("publish tenant %s: %w", c.TenantID, err)
		}
	}
	if err := r.broker.Publish(ctx, PlatformTopic(), payload); err != nil {
		return fmt.Errorf("publish platform: %w", err)
	}
	return nil
}
