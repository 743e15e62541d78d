// Package main runs the background worker standalone (attendance log drain
// and stale presence sweep) for deployments that keep it out of the server
// process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planpoker/backend/config"
	"github.com/planpoker/backend/internal/activity"
	"github.com/planpoker/backend/internal/realtime"
	"github.com/planpoker/backend/internal/worker"
	"github.com/planpoker/backend/pkg/database"
	"github.com/planpoker/backend/pkg/queue"
	"github.com/planpoker/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	presence := realtime.NewPresenceStore(rdb.Client, time.Duration(cfg.Presence.TTLSeconds)*time.Second, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub, presence)

	activityRepo := activity.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewActivityProcessor(activityRepo, jobQueue, logger)
	sweeper := worker.NewPresenceSweeper(presence, hub, time.Duration(cfg.Presence.SweepIntervalSeconds)*time.Second, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go sweeper.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
