package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"venuebook/internal/app/middleware"
	appoutbox "venuebook/internal/app/outbox"
	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	domainplaces "venuebook/internal/domain/places"
	"venuebook/internal/infra/config"
	mongostore "venuebook/internal/infra/db/mongo"
	"venuebook/internal/infra/db/postgres"
	"venuebook/internal/infra/obs"
	infraoutbox "venuebook/internal/infra/outbox"
	"venuebook/internal/infra/storage/memory"
)

type outboxStore interface {
	appoutbox.Outbox
	infraoutbox.Store
}

// storage is the driver-specific half of the wiring. The place directory is
// built by the caller so a cache can sit in front of places.
type storage struct {
	bookings    domainbooking.Repository
	places      domainplaces.Source
	ledger      domainpayments.Ledger
	outbox      outboxStore
	idempotency middleware.IdempotencyStore
	newFactory  func(dir *domainplaces.Directory) uow.UoWFactory
	seedPlace   func(ctx context.Context, p domainplaces.Place) error
	purge       func(ctx context.Context, before time.Time) (int64, error)
	checks      map[string]obs.Check
	close       func(ctx context.Context) error
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.DriverMongo:
		return openMongo(ctx, cfg)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		logger.Info("using in-memory storage")
		return openMemory(), nil
	}
}

func openMemory() *storage {
	bookings := memory.NewBookingRepository()
	places := memory.NewPlaceStore()
	ledger := memory.NewLedger()
	idem := memory.NewIdempotencyStore()
	return &storage{
		bookings:    bookings,
		places:      places,
		ledger:      ledger,
		outbox:      memory.NewOutbox(),
		idempotency: idem,
		newFactory: func(dir *domainplaces.Directory) uow.UoWFactory {
			return memory.Factory{BookingRepo: bookings, Directory: dir, LedgerStore: ledger}
		},
		seedPlace: func(_ context.Context, p domainplaces.Place) error {
			places.Upsert(p)
			return nil
		},
		purge:  idem.Purge,
		checks: map[string]obs.Check{},
		close:  func(context.Context) error { return nil },
	}
}

func openMongo(ctx context.Context, cfg config.Config) (*storage, error) {
	client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*storage, error) {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	ledger, err := mongostore.NewLedger(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	outbox, err := infraoutbox.NewMongoStore(ctx, client.DB)
	if err != nil {
		return fail(fmt.Errorf("init outbox: %w", err))
	}
	idem, err := mongostore.NewIdempotencyStore(ctx, client.DB, cfg.IdempotencyTTL)
	if err != nil {
		return fail(fmt.Errorf("init idempotency store: %w", err))
	}
	bookings := mongostore.NewBookingRepository(client.DB)
	places := mongostore.NewPlaceRepository(client.DB)
	return &storage{
		bookings:    bookings,
		places:      places,
		ledger:      ledger,
		outbox:      outbox,
		idempotency: idem,
		newFactory: func(dir *domainplaces.Directory) uow.UoWFactory {
			return mongostore.Factory{DB: client.DB, BookingRepo: bookings, Directory: dir, LedgerStore: ledger}
		},
		seedPlace: places.Upsert,
		checks:    map[string]obs.Check{"mongo": client.Ping},
		close:     client.Disconnect,
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*storage, error) {
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	bookings := postgres.NewBookingRepository(db)
	places := postgres.NewPlaceRepository(db)
	ledger := postgres.NewLedger(db)
	idem := postgres.NewIdempotencyStore(db)
	return &storage{
		bookings:    bookings,
		places:      places,
		ledger:      ledger,
		outbox:      postgres.NewOutboxStore(db),
		idempotency: idem,
		newFactory: func(dir *domainplaces.Directory) uow.UoWFactory {
			return postgres.Factory{DB: db, BookingRepo: bookings, Directory: dir, LedgerStore: ledger}
		},
		seedPlace: places.Upsert,
		purge:     idem.Purge,
		checks:    map[string]obs.Check{"postgres": pingSQL(db)},
		close:     func(context.Context) error { return db.Close() },
	}, nil
}

func pingSQL(db *sqlx.DB) obs.Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
