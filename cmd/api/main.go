package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"authority.dev/internal/access"
	"authority.dev/internal/attest"
	"authority.dev/internal/audit"
	"authority.dev/internal/config"
	"authority.dev/internal/httpapi"
	"authority.dev/internal/keys"
	"authority.dev/internal/obs"
	"authority.dev/internal/ratelimit"
	"authority.dev/internal/session"
	"authority.dev/internal/store/pg"
	"authority.dev/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (метрики, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Хранилище: Postgres, если задан DSN, иначе in-memory (dev)
	var (
		accessStore access.Store
		eventStore  audit.Store
		ready       httpapi.ReadyProbe
		pgStore     *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		accessStore, eventStore = pgStore, pgStore
		ready.Store = pgStore
	} else {
		obs.Warn("AUTHORITY_PG_DSN not set; grants are kept in memory", nil)
		accessStore, eventStore = access.NewInMemory(), audit.NewMemoryStore()
	}

	hub := stream.New()
	recOpts := []audit.RecorderOption{audit.WithSink(hub)}
	if cfg.AMQPURL != "" {
		sink, err := audit.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		defer sink.Close()
		recOpts = append(recOpts, audit.WithSink(sink))
	}
	recorder := audit.NewRecorder(eventStore, recOpts...)

	policy := ratelimit.Policy{Limit: cfg.ValidateLimit, Window: cfg.ValidateWindow}
	var limiter ratelimit.Limiter = ratelimit.NewMemory(policy)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, policy, "")
	}

	svc := access.NewService(accessStore, recorder,
		access.WithLimiter(limiter),
		access.WithPasscodeCost(cfg.PasscodeCost),
		access.WithShareBaseURL(cfg.PublicBaseURL),
	)

	sessions, err := session.FromEnv(session.WithTTL(cfg.SessionTTL))
	if err != nil {
		// the portal answers 503 until a session secret is configured
		obs.Warn("portal sessions disabled", map[string]any{"error": err.Error()})
		sessions = nil
	}

	registry := keys.NewRegistry()
	if h := registry.Health(); len(h.Warnings) > 0 {
		obs.Warn("attestation keys incomplete", map[string]any{"warnings": h.Warnings})
	}
	engine := attest.NewEngine(registry)

	api := httpapi.New(httpapi.Deps{
		Access:   svc,
		Sessions: sessions,
		Keys:     registry,
		Attester: engine,
		Events:   hub,
		Ready:    ready,
		Version:  version,
	},
		httpapi.WithRateLimit(cfg.HTTPRateBurst, cfg.HTTPRatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithTrustedProxies(cfg.TrustedProxies),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// event streams end when the process is signalled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCServer(ready, engine)
		health.Register(grpcSrv)
		go health.Run(ctx, 15*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.Info("starting authority-api", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"postgres":  pgStore != nil,
		"redis":     cfg.RedisAddr != "",
		"amqp":      cfg.AMQPURL != "",
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	obs.Info("stopped", nil)
}
