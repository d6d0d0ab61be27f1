// Command server runs the certificate lifecycle service: the HTTP API, the
// transition engine, and the background lifecycle scheduler.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"certfsm/internal/audit"
	"certfsm/internal/ca"
	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/handler"
	"certfsm/internal/certificate/metrics"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/service"
	"certfsm/internal/certificate/store"
	domainstore "certfsm/internal/certificate/store/domain"
	recordstore "certfsm/internal/certificate/store/record"
	"certfsm/internal/jwttoken"
	"certfsm/internal/platform/config"
	"certfsm/internal/platform/httpserver"
	"certfsm/internal/platform/logger"
	"certfsm/internal/platform/middleware"
	platformredis "certfsm/internal/platform/redis"
	"certfsm/internal/scheduler"
	httptransport "certfsm/internal/transport/http"
	"certfsm/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	domains, records, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	authority, err := buildAuthority(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	recorder := audit.Recorder(audit.NewStoreRecorder(records))

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		kafkaRec, err := audit.NewKafkaRecorder(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka recorder: %w", err)
		}
		defer kafkaRec.Close()

		inbox := make(chan models.TransitionRecord, 256)
		worker := audit.NewWorker(kafkaRec, inbox)
		recorder = audit.NewFanout(recorder, audit.NewChannelRecorder(inbox))
		g.Go(func() error {
			return ignoreCanceled(worker.Run(ctx))
		})
		log.Info("kafka transition publisher enabled",
			"brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	eng := engine.New(domains, authority, recorder,
		engine.WithMetrics(m),
		engine.WithLogger(log),
		engine.WithMaxAttempts(cfg.TriggerMaxAttempts),
	)
	svc := service.New(domains, records, authority, eng,
		service.WithMetrics(m),
		service.WithLogger(log),
	)

	var validator middleware.JWTValidator
	if cfg.JWTSigningKey != "" {
		validator = jwttoken.NewService(cfg.JWTSigningKey)
	} else {
		log.Warn("no JWT signing key configured, certificate API is unauthenticated")
	}

	router := httptransport.NewRouter(httptransport.Config{
		Handler:   handler.New(svc, log),
		Logger:    log,
		Validator: validator,
	})
	srv := httpserver.New(cfg.Addr, router)

	sched := scheduler.New(domains, eng, scheduler.Config{
		Interval:         cfg.Scheduler.Interval,
		RenewalThreshold: cfg.Scheduler.RenewalThreshold,
		TransientTimeout: cfg.Scheduler.TransientTimeout,
	}, scheduler.WithMetrics(m), scheduler.WithLogger(log))

	g.Go(func() error {
		return ignoreCanceled(sched.Run(ctx))
	})

	g.Go(func() error {
		log.Info("starting certfsm server",
			"addr", cfg.Addr, "store", cfg.StoreBackend, "ca", cfg.CABackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStores selects the persistence backend. The Redis backend keeps the
// audit trail in PostgreSQL when a DSN is configured, in memory otherwise.
func buildStores(ctx context.Context, cfg config.Server) (store.DomainStore, store.RecordStore, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case "memory":
		return domainstore.NewInMemory(), recordstore.NewInMemory(), noop, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, fmt.Errorf("ping postgres: %w", err)
		}

		dStore := domainstore.NewPostgres(db)
		rStore := recordstore.NewPostgres(db)
		if err := dStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, err
		}
		if err := rStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, err
		}
		return dStore, rStore, func() { _ = db.Close() }, nil

	case "redis":
		client, err := platformredis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, noop, err
		}

		var rStore store.RecordStore = recordstore.NewInMemory()
		cleanup := func() { _ = client.Close() }
		if cfg.PostgresDSN != "" {
			db, err := sql.Open("postgres", cfg.PostgresDSN)
			if err != nil {
				_ = client.Close()
				return nil, nil, noop, fmt.Errorf("open postgres: %w", err)
			}
			pgRecords := recordstore.NewPostgres(db)
			if err := pgRecords.Migrate(ctx); err != nil {
				_ = db.Close()
				_ = client.Close()
				return nil, nil, noop, err
			}
			rStore = pgRecords
			cleanup = func() {
				_ = db.Close()
				_ = client.Close()
			}
		}
		return domainstore.NewRedis(client.Client), rStore, cleanup, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// buildAuthority selects the certificate authority implementation. The ACME
// backend sits behind a circuit breaker so a flapping directory degrades to
// pending outcomes instead of hammering the endpoint.
func buildAuthority(cfg config.Server, log *slog.Logger) (ca.Authority, error) {
	switch cfg.CABackend {
	case "mock":
		return ca.NewMock(), nil
	case "acme":
		var opts []ca.ACMEOption
		if cfg.ACMEDirectoryURL != "" {
			opts = append(opts, ca.WithDirectoryURL(cfg.ACMEDirectoryURL))
		}
		if cfg.ACMEHTTP01Addr != "" {
			opts = append(opts, ca.WithHTTP01Address(cfg.ACMEHTTP01Addr))
		}
		acme, err := ca.NewACME(cfg.ACMEEmail, opts...)
		if err != nil {
			return nil, err
		}
		return ca.WithBreaker(acme, circuit.New("acme"), log), nil
	default:
		return nil, fmt.Errorf("unknown CA backend %q", cfg.CABackend)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
