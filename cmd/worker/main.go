// Package main runs the PageProof maintenance worker. It periodically sweeps
// indexing jobs abandoned by a crashed server so their workspaces are not
// blocked forever.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pageproof/internal/config"
	"pageproof/internal/database"
	"pageproof/internal/events"
	"pageproof/internal/logging"
	"pageproof/internal/reaper"
	"pageproof/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	jobs := repository.NewJobRepository(pool)

	// The worker publishes only; cross-process delivery happens through the
	// redis channel each API server relays into its own hub.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	broadcaster := events.NewRedisBroadcaster(redisClient, events.NewHub(log), log)
	sweep := reaper.New(jobs, broadcaster, cfg.ReapAfter, log)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.ReapInterval), reaper.Task()); err != nil {
		log.Fatal().Err(err).Msg("register reap schedule")
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 1})
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	log.Info().Dur("interval", cfg.ReapInterval).Msg("reaper running")
	if err := server.Run(sweep.Handler()); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
