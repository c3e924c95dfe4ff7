package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"registrar/internal/audit"
	"registrar/internal/dedup"
	dedupHandler "registrar/internal/dedup/handler"
	"registrar/internal/dedup/remediation"
	"registrar/internal/dedup/rules"
	"registrar/internal/dedup/scanner"
	"registrar/internal/entity"
	"registrar/internal/idempotency"
	writesHandler "registrar/internal/idempotency/handler"
	jwttoken "registrar/internal/jwt_token"
	"registrar/internal/platform/config"
	"registrar/internal/platform/httpserver"
	"registrar/internal/platform/logger"
	"registrar/internal/platform/metrics"
	platformredis "registrar/internal/platform/redis"
	httptransport "registrar/internal/transport/http"
)

// main wires dependencies and runs the server lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Idempotency store: Redis when configured, in-memory otherwise. The
	// in-memory fallback only deduplicates within one process.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis initialization failed", "error", err)
		os.Exit(1)
	}
	var idemStore idempotency.Store
	var redisHealth httptransport.HealthChecker
	if redisClient != nil {
		defer redisClient.Close()
		idemStore = idempotency.NewRedisStore(redisClient.Client)
		redisHealth = redisClient
		log.Info("idempotency store: redis")
	} else {
		idemStore = idempotency.NewInMemoryStore()
		log.Warn("idempotency store: in-memory, single-process deduplication only")
	}

	// Entity store: PostgreSQL when configured, in-memory otherwise.
	var entityStore entity.Store
	var auditStore audit.Store
	var pgHealth httptransport.HealthChecker
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres initialization failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		pg := entity.NewPostgresStore(db)
		entityStore = pg
		auditStore = audit.NewPostgresStore(db)
		pgHealth = pg
		log.Info("entity store: postgres")
	} else {
		entityStore = entity.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		log.Warn("entity store: in-memory, data does not survive restarts")
	}

	// Write guard.
	engine := idempotency.NewEngine()
	for name, fields := range entity.FingerprintFields() {
		if err := engine.RegisterOperation(name, fields...); err != nil {
			log.Error("operation registration failed", "operation", name, "error", err)
			os.Exit(1)
		}
	}
	guard, err := idempotency.NewGuard(engine, idemStore, log, m, cfg.Idempotency)
	if err != nil {
		log.Error("guard initialization failed", "error", err)
		os.Exit(1)
	}

	// Duplication audit cycle.
	ruleset := rules.Default()
	sc, err := scanner.New(entityStore, ruleset, log, m)
	if err != nil {
		log.Error("scanner initialization failed", "error", err)
		os.Exit(1)
	}
	mergeTrail := make(chan audit.Entry, 64)
	recorder := audit.NewPublisher(mergeTrail)
	remediator, err := remediation.New(entityStore, ruleset, log,
		remediation.WithRecorder(recorder),
		remediation.WithMetrics(m),
		remediation.WithGroupTimeout(cfg.Integrity.GroupTimeout),
	)
	if err != nil {
		log.Error("remediation initialization failed", "error", err)
		os.Exit(1)
	}
	integrity, err := dedup.NewService(sc, remediator, log, cfg.Integrity.ScanInterval)
	if err != nil {
		log.Error("integrity service initialization failed", "error", err)
		os.Exit(1)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "registrar", "registrar")
	validator := jwttoken.NewJWTServiceAdapter(jwtService)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Writes:    writesHandler.New(guard, entity.Operations(entityStore), log, validator),
		Integrity: dedupHandler.New(integrity, log, validator),
		Redis:     redisHealth,
		Postgres:  pgHealth,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting registrar", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := audit.NewWorker(auditStore, mergeTrail).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := integrity.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("registrar stopped")
}
