package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/config"
	"github.com/colinjlacy/knapscen-register-users/internal/platform/metrics"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/application"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
	postgres "github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/postgre"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/sqlite"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/sqlstore"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/events"
	"github.com/colinjlacy/knapscen-register-users/pkg/logger"
)

// ---------------- Main ----------------
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Environ(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run ejecuta un único registro y devuelve el código de salida.
func run(ctx context.Context, environ []string, stdout, stderr io.Writer) int {
	cfg, cfgErr := config.Load(environ)

	level := "info"
	if cfg != nil {
		level = cfg.LogLevel
	}
	log, err := logger.New(level)
	if err != nil {
		log, _ = logger.New("info")
		log.Warn("invalid LOG_LEVEL, falling back to info", zap.Error(err))
	}
	defer log.Sync() // flush buffers al salir

	if cfgErr != nil {
		log.Error("invalid configuration", zap.Errors("problems", domain.Errors(cfgErr)))
		fmt.Fprintf(stderr, "Error: %v\n", cfgErr)
		return application.ExitConfiguration
	}
	for _, key := range cfg.Dropped {
		log.Warn("extra attribute ignored: collides with a reserved key", zap.String("variable", key))
	}

	m := metrics.New()
	defer pushMetrics(cfg.Metrics, m, log)

	// ---------------- Store ----------------
	db, repo, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		m.RecordOutcome(application.StatusFailedBeforePersist.String())
		log.Error("store unavailable", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return application.Outcome{Status: application.StatusFailedBeforePersist, Err: err}.ExitCode()
	}
	defer db.Close()

	// ---------------- Broker ----------------
	dialer := newDialer(cfg.Broker, log)

	// --------------- Pipeline --------------
	resolver := application.NewIdentityResolver(repo, log)
	pipeline := application.NewPipeline(resolver, repo, dialer, cfg.Broker.Target(), log,
		application.WithRecorder(m),
	)

	var out application.Outcome
	switch cfg.Mode {
	case config.ModeRepublish:
		out = pipeline.Republish(ctx, cfg.Request)
	default:
		out = pipeline.Run(ctx, cfg.Request)
	}

	report(out, cfg.Mode, stdout, stderr)
	return out.ExitCode()
}

func openStore(ctx context.Context, cfg config.Store, log *zap.Logger) (*sqlx.DB, *sqlstore.UserRepo, error) {
	var (
		db         *sqlx.DB
		err        error
		initSchema func(context.Context, *sqlx.DB) error
		newRepo    func(*sqlx.DB) *sqlstore.UserRepo
	)

	switch cfg.Driver {
	case config.DriverSQLite:
		db, err = sqlite.Open(ctx, cfg.SQLitePath)
		initSchema = sqlite.InitSQLite
		newRepo = func(db *sqlx.DB) *sqlstore.UserRepo { return sqlite.NewUserRepoSQLite(db, cfg.Timeout, log) }
	default:
		db, err = postgres.Open(ctx, cfg.DSN(), cfg.Timeout)
		initSchema = postgres.InitPostgres
		newRepo = func(db *sqlx.DB) *sqlstore.UserRepo { return postgres.NewUserRepoPostgres(db, cfg.Timeout, log) }
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.InitSchema {
		initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := initSchema(initCtx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		log.Info("schema initialised", zap.String("driver", cfg.Driver))
	}
	return db, newRepo(db), nil
}

func newDialer(cfg config.Broker, log *zap.Logger) domain.PublisherDialer {
	switch cfg.Kind {
	case config.BrokerKafka:
		log.Info("Using Kafka as event bus", zap.Strings("brokers", cfg.KafkaBrokers))
		return events.NewKafkaDialer(events.KafkaOptions{
			Brokers:        cfg.KafkaBrokers,
			ConnectTimeout: cfg.ConnectTimeout,
			PublishTimeout: cfg.PublishTimeout,
		}, log)
	case config.BrokerMemory:
		log.Info("Using in-memory event bus", zap.String("stream", cfg.Stream))
		bus := events.NewInMemoryBus()
		bus.DeclareStream(cfg.Stream, cfg.Subject)
		return bus
	default:
		return events.NewNATSDialer(events.NATSOptions{
			Servers:        cfg.Servers,
			User:           cfg.User,
			Password:       cfg.Password,
			ConnectTimeout: cfg.ConnectTimeout,
			PublishTimeout: cfg.PublishTimeout,
		}, log)
	}
}

func report(out application.Outcome, mode string, stdout, stderr io.Writer) {
	switch out.Status {
	case application.StatusDone:
		if mode == config.ModeRepublish {
			fmt.Fprintf(stdout, "Registration event republished for user ID: %s\n", out.Record.ID)
			return
		}
		fmt.Fprintf(stdout, "User registered successfully with ID: %s\n", out.Record.ID)
	case application.StatusPersistedButNotPublished:
		fmt.Fprintf(stderr, "Error: user %s was stored but the event was not published: %v\n", out.Record.ID, out.Err)
		fmt.Fprintf(stderr, "Retry with REGISTRATION_MODE=%s to publish only.\n", config.ModeRepublish)
	default:
		fmt.Fprintf(stderr, "Error: %v\n", out.Err)
	}
}

func pushMetrics(cfg config.Metrics, m *metrics.Metrics, log *zap.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		log.Warn("failed to push metrics", zap.Error(err))
	}
}
