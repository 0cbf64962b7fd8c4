// Command worker runs a pool of TACoreService workers: one DEALER
// socket per worker with a fixed identity, each attached to a demo
// MethodHandler registry with its own heartbeat goroutine, and
// Store-backed request/status logging.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tacoreservice/internal/cache"
	"github.com/aristath/tacoreservice/internal/config"
	"github.com/aristath/tacoreservice/internal/handler"
	"github.com/aristath/tacoreservice/internal/logger"
	"github.com/aristath/tacoreservice/internal/store"
	"github.com/aristath/tacoreservice/internal/workerclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log = log.With().Str("service", cfg.ServiceName).Str("role", "worker").Logger()

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	st.SetLogger(log)

	c := cache.NewNoop(log)
	if cfg.CacheEnabled {
		c = cache.New(cache.Config{
			Host:     cfg.CacheHost,
			Port:     cfg.CachePort,
			Password: cfg.CachePassword,
			DB:       cfg.CacheDB,
		}, log)
	}
	defer c.Close()

	registry := handler.NewDemoRegistry(c)
	storeAdapter := workerclient.StoreAdapter{Store: st}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseID := cfg.WorkerID
	if baseID == "" {
		baseID = fmt.Sprintf("worker-%s", uuid.NewString())
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		workerID := baseID
		if cfg.WorkerCount > 1 {
			workerID = fmt.Sprintf("%s-%d", baseID, i+1)
		}

		wlog := log.With().Str("worker_id", workerID).Logger()
		w, err := workerclient.New(workerclient.Config{
			WorkerID:          workerID,
			BackendEndpoint:   cfg.BackendConnectEndpoint(),
			HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
			HandlerTimeout:    time.Duration(cfg.WorkerTimeoutSeconds) * time.Second,
		}, registry, storeAdapter, wlog)
		if err != nil {
			log.Fatal().Err(err).Str("worker_id", workerID).Msg("create worker")
		}

		wg.Add(1)
		go runWorker(ctx, &wg, w, wlog)
	}

	log.Info().
		Str("backend", cfg.BackendConnectEndpoint()).
		Int("worker_count", cfg.WorkerCount).
		Msg("worker pool: started")

	wg.Wait()
	log.Info().Msg("worker pool: stopped")
}

func runWorker(ctx context.Context, wg *sync.WaitGroup, w *workerclient.Worker, log zerolog.Logger) {
	defer wg.Done()
	defer w.Close()

	go w.RunHeartbeat(ctx)

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("worker: run loop exited")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Stop(stopCtx)
}
