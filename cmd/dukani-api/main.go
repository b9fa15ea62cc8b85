// README: Entry point; loads config, wires stores and services, serves the HTTP API until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dukani/internal/config"
	httptransport "dukani/internal/http"
	"dukani/internal/infra"
	"dukani/internal/modules/delivery"
	"dukani/internal/modules/notify"
	"dukani/internal/modules/order"
	"dukani/internal/modules/payment"
	"dukani/internal/modules/payout"
	"dukani/internal/modules/pricing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dukani-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, notifier, err := newFirebase(ctx, cfg, log)
	if err != nil {
		return err
	}

	db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.Migrate {
		if err := infra.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var payouts order.PayoutScheduler = payout.NewLogScheduler(log)
	if cfg.Kafka.Enabled {
		producer, err := infra.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		payouts = payout.NewKafkaScheduler(producer, cfg.Kafka.PayoutTopic, log)
	}

	rates, err := cfg.Pricing.Rates()
	if err != nil {
		return err
	}
	pricingSvc := pricing.NewService(pricing.Rates{
		CommissionRate: rates.CommissionRate,
		PlatformFee:    rates.PlatformFee,
		ShippingFee:    rates.ShippingFee,
		Currency:       rates.Currency,
	}, pricing.NewStore(db))

	dir := delivery.NewDirectory(
		delivery.NewStore(db),
		delivery.NewRiderCache(rdb, cfg.Delivery.RiderCacheTTL),
		log.Named("delivery"),
	)

	opts := []order.Option{
		order.WithPayouts(payouts),
		order.WithRiders(dir),
		order.WithNotifier(notifier),
		order.WithLogger(log.Named("order")),
	}
	if cfg.Maps.APIKey != "" {
		eta, err := delivery.NewRouteEstimator(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		opts = append(opts, order.WithETA(eta))
	} else {
		log.Info("maps api key not set; delivery ETA disabled")
	}
	orderSvc := order.NewService(order.NewStore(db), pricingSvc, opts...)

	paymentSvc := payment.NewService(
		orderSvc,
		payment.NewDaraja(payment.DarajaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			CallbackURL:    cfg.Mpesa.CallbackURL,
			Timeout:        cfg.Mpesa.Timeout,
		}),
		payment.NewRedisStatusCache(rdb, cfg.Mpesa.StatusTTL),
		log.Named("payment"),
	)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    orderSvc,
		Payment:  paymentSvc,
		Delivery: delivery.NewService(orderSvc, dir),
		Pricing:  pricingSvc,
		Verifier: verifier,
		Log:      log.Named("http"),
	})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		// Warm the rider cache so the first assignment screen is fast.
		if _, err := dir.ActiveRiders(gctx); err != nil {
			log.Warn("rider cache warm-up failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

// newFirebase builds the token verifier and the notifier. Dev auth has no
// Firebase app, so push is unavailable there.
func newFirebase(ctx context.Context, cfg *config.Config, log *zap.Logger) (infra.TokenVerifier, order.Notifier, error) {
	logNotifier := notify.NewLog(log.Named("notify"))
	if cfg.Auth.Mode == "dev" {
		log.Warn("dev auth enabled: bearer tokens are <uid>:<role> and are not verified")
		return infra.NewDevVerifier(), logNotifier, nil
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Auth.ProjectID, cfg.Auth.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Notify.Push {
		return verifier, logNotifier, nil
	}
	fcm, err := notify.NewFCM(ctx, app, log.Named("notify"))
	if err != nil {
		return nil, nil, err
	}
	return verifier, fcm, nil
}
