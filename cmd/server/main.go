// Package main runs the PageProof API server: it accepts indexing jobs,
// drives the processing pipeline in-process, and serves the event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"pageproof/internal/analyzer"
	"pageproof/internal/config"
	"pageproof/internal/database"
	"pageproof/internal/events"
	"pageproof/internal/indexer"
	"pageproof/internal/logging"
	"pageproof/internal/objstore"
	"pageproof/internal/pricing"
	"pageproof/internal/render"
	"pageproof/internal/repository"
	"pageproof/internal/server"
	"pageproof/internal/signing"
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
	docs := repository.NewDocumentRepository(pool)
	pages := repository.NewPageRepository(pool)
	members := repository.NewMemberRepository(pool)

	store, err := objstore.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init object storage")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	hub := events.NewHub(log)
	broadcaster := events.NewRedisBroadcaster(redisClient, hub, log)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event relay stopped")
		}
	}()

	rates := pricing.Default()
	if cfg.PricingFile != "" {
		rates, err = pricing.Load(cfg.PricingFile)
		if err != nil {
			log.Warn().Err(err).Msg("pricing file unusable, using defaults")
		}
	}

	controller := indexer.New(indexer.Config{
		Jobs:        jobs,
		Documents:   docs,
		Pages:       pages,
		Objects:     store,
		Renderer:    render.NewEngine(cfg.RasterizerBin, log),
		Analyzer:    analyzer.NewClient(cfg.AnalyzerURL, cfg.AnalyzerAPIKey, cfg.AnalyzerModel),
		Broadcaster: broadcaster,
		Rates:       rates,
		ThumbWidth:  cfg.ThumbWidth,
		Log:         log,
	})

	signer := signing.NewSigner(cfg.SessionSecret)
	srv := server.New(cfg, controller, jobs, members, hub, signer, log)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	// Let in-flight runs reach a terminal state before exiting.
	controller.Wait()
}
