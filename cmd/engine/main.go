package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/engine"
	"github.com/linkflow-ai/officeflow-engine/internal/errsink"
	"github.com/linkflow-ai/officeflow-engine/internal/orchestrator"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/config"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/logger"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(cfg.App.Environment, cfg.App.LogLevel)

	instanceID := cfg.App.InstanceID
	if instanceID == "" {
		hostname, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("instance_id", instanceID).
		Msg("starting officeflow engine")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	st := store.NewRedisStore(redisClient, "officeflow:")

	bus := dispatch.NewAsynqBus(dispatch.AsynqBusConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Orchestrator.MaxConcurrentWorkflows,
	})
	defer bus.Close()

	errs := errsink.NewSink(log.Logger, st, bus, errsink.DefaultRules())

	orchCfg := cfg.Orchestrator.BuildOrchestratorConfig(instanceID)
	orch := orchestrator.New(orchCfg, st, bus, errs)

	// Workflow definitions are owned by an external CRUD service per
	// spec.md §1; StaticDefinitions stands in for that seam here.
	defs := engine.NewStaticDefinitions()
	svc := engine.New(orch, bus, defs)
	svc.RegisterHandlers()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Host + ":" + strconv.Itoa(cfg.Metrics.Port), Handler: mux}
		go func() {
			log.Info().Str("addr", metricsSrv.Addr).Msg("serving prometheus metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down officeflow engine")
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
		cancel()
	}()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine service stopped with error")
	}
}
