package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/repository/postgres"
	"github.com/ignite/outreach/internal/scheduler"
	"github.com/ignite/outreach/internal/tracking"
	"github.com/ignite/outreach/internal/transport"
	"github.com/ignite/outreach/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Error("ping database", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("ping redis", "error", err)
		os.Exit(1)
	}

	store := postgres.NewStore(db)
	jobs := queue.NewPGQueue(db)
	jobs.SetPollInterval(time.Duration(cfg.Worker.PollIntervalMS) * time.Millisecond)
	sched := scheduler.New(store, jobs)
	tokens := tracking.NewStore(rdb, cfg.Tracking.TokenTTLSeconds)
	limiter := worker.NewLimiter(rdb)

	newLock := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewRedisLock(rdb, key, ttl)
	}
	gmail := transport.NewGmail(cfg.Google.ClientID, cfg.Google.ClientSecret,
		cfg.Google.RedirectURL, store, newLock)

	dispatcher := worker.NewDispatcher(store, gmail, sched, tokens, limiter,
		cfg.Tracking.AppURL, cfg.Tracking.Secret)
	bounces := worker.NewBounceChecker(store, gmail, cfg.Bounce.MaxMessages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		jobs.Consume(ctx, queue.QueueSend, cfg.Worker.SendConcurrency, dispatcher.HandleSendJob)
	}()
	go func() {
		defer wg.Done()
		jobs.Consume(ctx, queue.QueueFollowUp, cfg.Worker.FollowUpConcurrency, dispatcher.HandleSendJob)
	}()

	c := cron.New()
	if _, err := c.AddFunc(cfg.Bounce.Schedule, func() {
		if err := bounces.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bounce sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid bounce schedule", "schedule", cfg.Bounce.Schedule, "error", err)
		os.Exit(1)
	}
	c.Start()

	logger.Info("worker started",
		"send_concurrency", cfg.Worker.SendConcurrency,
		"followup_concurrency", cfg.Worker.FollowUpConcurrency,
		"bounce_schedule", cfg.Bounce.Schedule)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("worker shutting down")
	cancel()
	<-c.Stop().Done()
	wg.Wait()
	logger.Info("worker stopped", "dispatch", dispatcher.Stats())
}
