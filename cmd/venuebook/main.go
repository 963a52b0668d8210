package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	bookingapp "venuebook/internal/app/handlers/booking"
	"venuebook/internal/app/middleware"
	appoutbox "venuebook/internal/app/outbox"
	apppayments "venuebook/internal/app/payments"
	"venuebook/internal/app/policies"
	"venuebook/internal/app/queries"
	"venuebook/internal/app/schedule"
	"venuebook/internal/app/statemachine"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/infra/broker/kafka"
	"venuebook/internal/infra/cache"
	"venuebook/internal/infra/config"
	"venuebook/internal/infra/gateway/click"
	"venuebook/internal/infra/gateway/payme"
	ginserver "venuebook/internal/infra/http/gin"
	"venuebook/internal/infra/metrics"
	"venuebook/internal/infra/notify"
	"venuebook/internal/infra/obs"
	infraoutbox "venuebook/internal/infra/outbox"
	infrapricing "venuebook/internal/infra/pricing"
	"venuebook/internal/infra/reconcile"
	infraschedule "venuebook/internal/infra/schedule"
	"venuebook/internal/infra/storage/memory"
	"venuebook/internal/infra/storage/s3"
	"venuebook/internal/infra/validation"
)

const idempotencyPurgeJob = "idempotency-purge"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger("dev").Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("venuebook stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("venuebook stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.close(context.Background()); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}()

	places := store.places
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		places = cache.NewPlaceCache(rdb, places, cfg.PlaceCacheTTL, logger)
		store.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("place cache enabled", "ttl", cfg.PlaceCacheTTL)
	}
	directory := domainplaces.NewDirectory(places)
	factory := store.newFactory(directory)

	if err := seedPlaces(ctx, cfg.PlacesFixtures, store, logger); err != nil {
		logger.Warn("place fixtures load failed", "error", err, "path", cfg.PlacesFixtures)
	}

	recorder := metrics.Recorder{}
	encoder := appoutbox.JSONEventEncoder{}

	archive, err := newArchive(cfg, logger)
	if err != nil {
		return err
	}
	operator := reconcile.Channel{Archive: archive, Outbox: store.outbox, Recorder: recorder, Logger: logger}
	notifier := policies.FanOut{
		notify.OutboxTrigger{Outbox: store.outbox, Encoder: encoder},
		notify.LogTrigger{Logger: logger},
	}
	machine := statemachine.New(store.bookings, notifier,
		statemachine.WithLogger(logger),
		statemachine.WithRecorder(recorder),
	)
	processor := &apppayments.Processor{
		Ledger:   store.ledger,
		Bookings: machine,
		Operator: operator,
		Recorder: recorder,
		Logger:   logger,
	}

	validator := validation.New()
	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[bookingapp.RequestBookingCommand, *bookingapp.RequestBookingResult](commandBus, &bookingapp.RequestBookingHandler{
		UoWFactory: factory,
		Pricing: infrapricing.Quoter{Policy: domainpricing.FeePolicy{
			ServiceFeeBasisPoints: cfg.ServiceFeeBPS,
			ProtectionPlanFee:     money.Money{Amount: cfg.ProtectionPlanFee, Currency: cfg.Currency},
		}},
		Outbox:  store.outbox,
		Encoder: encoder,
	})
	commands.RegisterHandler[bookingapp.HostSelectBookingCommand, *dto.BookingActionResult](commandBus, &bookingapp.HostSelectBookingHandler{Machine: machine, Logger: logger})
	commands.RegisterHandler[bookingapp.HostRejectBookingCommand, *dto.BookingActionResult](commandBus, &bookingapp.HostRejectBookingHandler{Machine: machine, Logger: logger})
	commands.RegisterHandler[bookingapp.CancelBookingCommand, *dto.BookingActionResult](commandBus, &bookingapp.CancelBookingHandler{Machine: machine, Logger: logger})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[bookingapp.GetBookingQuery, dto.BookingDTO](queryBus, &bookingapp.GetBookingHandler{UoWFactory: factory})
	queries.RegisterHandler[bookingapp.ListHostBookingsQuery, dto.BookingCollection](queryBus, &bookingapp.ListHostBookingsHandler{UoWFactory: factory, Logger: logger})
	queries.RegisterHandler[bookingapp.ListClientBookingsQuery, dto.BookingCollection](queryBus, &bookingapp.ListClientBookingsHandler{UoWFactory: factory})
	queries.RegisterHandler[bookingapp.ListBookingTransactionsQuery, dto.TransactionCollection](queryBus, &bookingapp.ListBookingTransactionsHandler{UoWFactory: factory})

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Validation(validator),
		middleware.Idempotency(store.idempotency, nil, middleware.ReplayErrors(bookingapp.FinalErrors...)),
		middleware.Transaction(factory, nil),
		middleware.OutboxFlush(store.outbox, logger),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus, middleware.QueryValidation(validator))

	payments := ginserver.PaymentHandler{Logger: logger}
	if cfg.PaymeEnabled() {
		payments.Payme = payme.NewMerchant(payme.Config{
			Login:    cfg.PaymeLogin,
			Key:      cfg.PaymeMerchantKey,
			Currency: cfg.Currency,
		}, store.bookings, store.ledger, processor, payme.WithLogger(logger), payme.WithRecorder(recorder))
	}
	if cfg.ClickEnabled() {
		payments.Click = click.NewMerchant(click.Config{
			ServiceID: cfg.ClickServiceID,
			SecretKey: cfg.ClickSecretKey,
			Currency:  cfg.Currency,
		}, store.bookings, store.ledger, processor, click.WithLogger(logger), click.WithRecorder(recorder))
	}

	handlers := ginserver.Handlers{
		Booking:        ginserver.BookingHandler{Commands: commandBusWithMiddleware, Queries: queryBusWithMiddleware, Logger: logger},
		HostBooking:    ginserver.HostBookingHandler{Commands: commandBusWithMiddleware, Queries: queryBusWithMiddleware, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: ginserver.TokenVerifier{Secret: []byte(cfg.JWTSecret)}, Logger: logger}.Handle,
		Metrics:        metrics.Middleware(),
		MetricsHandler: metrics.Handler(),
	}
	if cfg.PaymeEnabled() || cfg.ClickEnabled() {
		handlers.Payments = payments
	}
	if !cfg.PaymeEnabled() || !cfg.ClickEnabled() {
		logger.Warn("some payment callbacks disabled, provider credentials missing",
			"payme", cfg.PaymeEnabled(), "click", cfg.ClickEnabled())
	}

	producer, err := newProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()
	worker := &infraoutbox.Worker{
		Store:       store.outbox,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker stopped", "error", err)
		}
	}()

	runner, err := startJobs(cfg, store, machine, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown failed", "error", err)
		}
	}()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: store.checks}, handlers)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func seedPlaces(ctx context.Context, path string, store *storage, logger *slog.Logger) error {
	fixtures, err := memory.ReadPlaceFixtures(path, logger)
	if err != nil {
		return err
	}
	for _, place := range fixtures {
		if err := store.seedPlace(ctx, place); err != nil {
			logger.Error("cannot store fixture place", "place_id", place.ID, "error", err)
			continue
		}
		logger.Info("place fixture imported", "place_id", place.ID)
	}
	return nil
}

func newArchive(cfg config.Config, logger *slog.Logger) (s3.Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return s3.NoopArchiver{}, nil
	}
	client, err := s3.NewClient(s3.Options{
		Endpoint:  cfg.S3Endpoint,
		UseSSL:    cfg.S3UseSSL,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init callback archive: %w", err)
	}
	return client, nil
}

type publisher interface {
	infraoutbox.Producer
	Close() error
}

// newProducer falls back to logging events when no brokers are configured,
// which only the memory driver allows.
func newProducer(cfg config.Config, logger *slog.Logger) (publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return logProducer{logger: logger}, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	return producer, nil
}

type logProducer struct {
	logger *slog.Logger
}

func (p logProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.logger.Debug("outbox event", "topic", topic, "key", key, "bytes", len(payload), "headers", headers)
	return nil
}

func (logProducer) Close() error { return nil }

func startJobs(cfg config.Config, store *storage, machine *statemachine.Machine, logger *slog.Logger) (*infraschedule.Runner, error) {
	runner, err := infraschedule.NewRunner(logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	if cfg.SweeperEnabled {
		sweeper := &schedule.Sweeper{
			Bookings: store.bookings,
			Machine:  machine,
			Window:   cfg.SelectionPaymentWindow,
			Logger:   logger,
		}
		if err := sweeper.Register(runner, cfg.SweeperInterval); err != nil {
			return nil, fmt.Errorf("register sweeper: %w", err)
		}
	}
	if store.purge != nil {
		ttl := cfg.IdempotencyTTL
		err := runner.Every(idempotencyPurgeJob, time.Hour, func(ctx context.Context) error {
			n, err := store.purge(ctx, time.Now().Add(-ttl))
			if err == nil && n > 0 {
				logger.Info("idempotency records purged", "count", n)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("register purge: %w", err)
		}
	}
	runner.Start()
	return runner, nil
}
