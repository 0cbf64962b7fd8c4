// Command broker runs the TACoreService load balancer: the frontend and
// backend ROUTER sockets, the worker registry, the monitoring HTTP API,
// and the periodic maintenance jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tacoreservice/internal/api"
	"github.com/aristath/tacoreservice/internal/backup"
	"github.com/aristath/tacoreservice/internal/broker"
	"github.com/aristath/tacoreservice/internal/cache"
	"github.com/aristath/tacoreservice/internal/config"
	"github.com/aristath/tacoreservice/internal/logger"
	"github.com/aristath/tacoreservice/internal/metrics"
	"github.com/aristath/tacoreservice/internal/scheduler"
	"github.com/aristath/tacoreservice/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log = log.With().Str("service", cfg.ServiceName).Str("role", "broker").Logger()

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

	coll := metrics.New(st, log)

	storeAdapter := broker.StoreAdapter{Store: st}
	heartbeatInterval := time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	reg := broker.NewRegistry(heartbeatInterval, cfg.HeartbeatStaleFactor, storeAdapter, coll, log)

	b, err := broker.New(cfg.FrontendEndpoint(), cfg.BackendEndpoint(), reg, storeAdapter, coll, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create broker")
	}
	defer b.Close()

	sched := scheduler.New(log)
	if err := sched.AddJob("0 0 3 * * *", cleanupJob{store: st, retentionDays: cfg.MetricsRetentionDays}); err != nil {
		log.Fatal().Err(err).Msg("register cleanup job")
	}

	if cfg.BackupEnabled {
		backupClient, err := backup.NewClient(context.Background(), backup.ClientConfig{
			Endpoint:       cfg.BackupEndpoint,
			Region:         cfg.BackupRegion,
			Bucket:         cfg.BackupBucket,
			AccessKey:      cfg.BackupAccessKey,
			SecretKey:      cfg.BackupSecretKey,
			UseSSL:         cfg.BackupUseSSL,
			ForcePathStyle: cfg.BackupEndpoint != "",
		})
		if err != nil {
			log.Error().Err(err).Msg("backup: disabled, client setup failed")
		} else {
			backupSvc := backup.NewService(backupClient, cfg.StorePath, cfg.BackupStageDir, log)
			if err := sched.AddJob(cfg.BackupCronSchedule, backupJob{service: backupSvc, retentionDays: cfg.BackupRetentionDays}); err != nil {
				log.Error().Err(err).Msg("backup: job registration failed")
			}
		}
	}

	httpServer := api.New(api.Config{
		ServiceName: cfg.ServiceName,
		Host:        cfg.HTTPHost,
		Port:        cfg.HTTPPort,
		Log:         log,
		Store:       st,
		Collector:   coll,
		Cache:       c,
		Jobs:        sched,
		DevMode:     cfg.Debug,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reg.RunHealthMonitor(ctx)
	go coll.StartFlushLoop(ctx, time.Duration(cfg.MetricsCollectionIntervalSeconds)*time.Second)
	sched.Start()
	defer sched.Stop()

	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("monitoring API stopped")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("broker: shutdown signal received")
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("broker: run loop exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("monitoring API shutdown error")
	}

	// Last observed worker states survive the process for the next
	// operator to inspect.
	reg.FlushStatuses(shutdownCtx)

	log.Info().Msg("broker: stopped")
}

type cleanupJob struct {
	store         *store.Store
	retentionDays int
}

func (j cleanupJob) Name() string { return "store_cleanup" }

func (j cleanupJob) Run() error {
	days := j.retentionDays
	if days <= 0 {
		days = 7
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return j.store.Cleanup(ctx, days)
}

type backupJob struct {
	service       *backup.Service
	retentionDays int
}

func (j backupJob) Name() string { return "store_backup" }

func (j backupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, j.retentionDays)
}
