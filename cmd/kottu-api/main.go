// README: Entry point; loads config, wires services, starts HTTP server, change relay and background monitors.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kottu/internal/config"
	httptransport "kottu/internal/http"
	"kottu/internal/infra"
	"kottu/internal/logging"
	"kottu/internal/maps"
	"kottu/internal/modules/notify"
	"kottu/internal/modules/order"
	"kottu/internal/modules/promotion"
	"kottu/internal/modules/realtime"
	"kottu/internal/service"
	"kottu/migrations"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *migrate); err != nil {
		log.Error("kottu-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) error {
	if cfg.Firebase.ProjectID == "" {
		return errors.New("KOTTU_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := fb.Verifier(ctx)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	if migrate {
		if err := migrations.Apply(ctx, dbPool); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	// Notifications: push to kitchen devices, optionally mirrored to a staff chat.
	msgClient, err := fb.Messaging(ctx)
	if err != nil {
		return err
	}
	notifiers := notify.Multi{notify.NewFCM(msgClient)}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, tg)
	}
	alerts := notify.NewDispatcher(notifiers, log)

	var geo order.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		geo = g
	}

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, order.Deps{
		Geocoder:            geo,
		Alerts:              alerts,
		Logger:              log,
		RequireSkipOverride: cfg.Orders.RequireSkipOverride,
		NumberPrefix:        cfg.Orders.NumberPrefix,
	})

	promoStore := promotion.NewStore(dbPool)
	promoSvc := promotion.NewService(promoStore, promotion.Deps{
		Customers: orderStore,
		Logger:    log,
	})

	checkout := service.NewCheckout(orderSvc, promoSvc, log)

	// Realtime: Redis fans changes out across instances; without it everything stays in process.
	var (
		broker   realtime.Broker
		presence realtime.PresenceStore
	)
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		broker = realtime.NewRedisTransport(rdb)
		presence = realtime.NewRedisPresence(rdb)
	} else {
		broker = realtime.NewMemoryBroker()
		presence = realtime.NewMemoryPresence()
		log.Warn("KOTTU_REDIS_ADDR not set; realtime fan-out is limited to this instance")
	}

	rtDeps := realtime.Deps{
		Broker:               broker,
		Presence:             presence,
		Orders:               orderSvc,
		Logger:               log,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		PresenceStaleAfter:   cfg.Realtime.PresenceStaleAfter,
	}
	streams := realtime.NewManager(rtDeps)
	defer streams.Close()

	alertDeps := rtDeps
	alertDeps.Alerts = alerts
	alertWatch := realtime.NewManager(alertDeps)
	defer alertWatch.Close()
	if err := alertWatch.SubscribeAlerts("platform-alerts"); err != nil {
		return err
	}

	relay := realtime.NewPGRelay(dbPool, broker, cfg.Realtime.NotifyChannel, log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:        orderSvc,
		Checkout:      checkout,
		Promotions:    promoSvc,
		Realtime:      streams,
		Verifier:      verifier,
		Logger:        log,
		ValidateRPS:   cfg.Promotions.ValidateRPS,
		ValidateBurst: cfg.Promotions.ValidateBurst,
		// Presence streams refresh on every ping.
		StreamKeepAlive: min(15*time.Second, cfg.Realtime.PresenceStaleAfter/4),
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		orderSvc.RunUrgencyMonitor(gctx, cfg.Kitchen.UrgencyTick)
		return nil
	})
	return g.Wait()
}
