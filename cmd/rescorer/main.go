package main

import (
	"context"
	"database/sql"
	"errors"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"findmy/internal/adapters/observability"
	redisad "findmy/internal/adapters/redis"
	"findmy/internal/app"
	"findmy/internal/shared"
	mysqlrepo "findmy/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Int("workers", cfg.RescoreWorkers).
		Float64("rps", cfg.RescoreRPS).
		Str("score_policy", cfg.ScorePolicy).
		Msg("rescorer starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}

	repo := mysqlrepo.New(db)
	scorer, err := app.ScorerFromConfig(cfg, repo, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("scorer")
	}
	svc := app.NewRescoreService(repo, scorer, cache, cfg.RescoreWorkers, cfg.RescoreRPS, cfg.RescoreLockTTL)

	sum, err := svc.RescoreAll(ctx)
	switch {
	case errors.Is(err, app.ErrRescoreLocked):
		log.Info().Msg("another rescore holds the lock; nothing to do")
	case err != nil:
		log.Fatal().Err(err).Int("updated", sum.Updated).Msg("rescore aborted")
	default:
		log.Info().Int("users", sum.Users).Int("updated", sum.Updated).Int("failed", sum.Failed).Msg("rescore completed")
	}
}
