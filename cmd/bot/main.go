package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"neurobot/internal/billing"
	"neurobot/internal/bot"
	"neurobot/internal/config"
	"neurobot/internal/database"
	"neurobot/internal/events"
	"neurobot/internal/metrics"
	"neurobot/internal/models"
	"neurobot/internal/payment"
	"neurobot/internal/store"
	"neurobot/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}
	defer rdb.Close()

	entitlements := store.NewGormStore(db)
	catalog := store.NewCachedCatalog(entitlements, rdb, cfg.CatalogCacheTTL, log)

	var publisher events.Publisher = &events.FallbackPublisher{Log: log}
	if cfg.RabbitMQURL != "" {
		producer, err := events.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable, ledger events will only be logged")
		} else {
			publisher = producer
		}
	}
	defer publisher.Close()

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	notifier := bot.NewNotifier(tgBot, catalog, cfg.OperatorChatID, log)

	providers := []billing.Provider{
		payment.NewStars(tgBot, payment.FeeSchedule{Percent: cfg.StarsFeePercent}),
	}
	methods := []models.PaymentMethod{}

	var yookassa *payment.YooKassa
	var charger worker.RenewalCharger
	if cfg.YookassaShopID != "" {
		yookassa = payment.NewYooKassa(
			payment.NewClient(cfg.YookassaShopID, cfg.YookassaKey),
			cfg.YookassaReturnURL,
			payment.FeeSchedule{Percent: cfg.YookassaFeePercent},
			log,
		)
		providers = append(providers, yookassa)
		methods = append(methods, models.PaymentMethodYooKassa)
		charger = yookassa
	}

	var verifier payment.SignatureVerifier
	if cfg.StripeSecretKey != "" {
		stripe := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeSuccessURL, cfg.StripeCancelURL,
			payment.FeeSchedule{Percent: cfg.StripeFeePercent, Fixed: cfg.StripeFeeFixed}, log)
		providers = append(providers, stripe)
		methods = append(methods, models.PaymentMethodStripe)
		verifier = stripe
	}
	methods = append(methods, models.PaymentMethodTelegramStars)

	svc := billing.New(billing.Deps{
		Store:     entitlements,
		Catalog:   catalog,
		Providers: providers,
		Notifier:  notifier,
		Publisher: publisher,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Logger:    log,
	}, billing.Options{
		FreeLimits:     cfg.FreeLimits,
		GiftThresholds: cfg.GiftThresholds,
		MinAmounts:     cfg.MinAmounts,
		TrialPrices:    cfg.TrialPrices,
		TrialDuration:  cfg.TrialDuration,
		MaxRetries:     cfg.TxMaxRetries,
	})

	webhooks := payment.NewHandler(svc.Reconciler, verifier, cfg.AllowedYooIp, log)
	webhooks.TrustForwardedFor = cfg.TrustForwardedFor
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           payment.NewRouter(webhooks, promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	b := bot.NewBot(tgBot, svc, catalog, notifier, log)
	b.Methods = methods
	b.Currency = cfg.DefaultCurrency
	b.SubscriptionProducts = cfg.SubscriptionProducts
	b.PackageProducts = cfg.PackageProducts

	checker := worker.NewChecker(svc, rdb, notifier, charger, cfg.RenewalGrace, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("Webhook server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return b.Start(gctx)
	})
	g.Go(func() error {
		return checker.Start(gctx, cfg.WorkerSchedule)
	})

	log.Info("Service started successfully")
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Service stopped with error")
		os.Exit(1)
	}
	log.Info("Service stopped")
}
