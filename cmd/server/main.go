// Package main runs the planning poker HTTP server with realtime session
// channels and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planpoker/backend/config"
	"github.com/planpoker/backend/internal/activity"
	"github.com/planpoker/backend/internal/middleware"
	"github.com/planpoker/backend/internal/participants"
	"github.com/planpoker/backend/internal/realtime"
	"github.com/planpoker/backend/internal/results"
	"github.com/planpoker/backend/internal/sessions"
	"github.com/planpoker/backend/internal/worker"
	"github.com/planpoker/backend/pkg/database"
	"github.com/planpoker/backend/pkg/queue"
	"github.com/planpoker/backend/pkg/redis"
	"github.com/planpoker/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	presence := realtime.NewPresenceStore(rdb.Client, time.Duration(cfg.Presence.TTLSeconds)*time.Second, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub, presence)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, hub, logger)

	// Participants
	participantRepo := participants.NewRepository(pool)
	participantHandler := participants.NewHandler(participantRepo, sessionRepo, hub, logger)

	// Results
	resultRepo := results.NewRepository(pool)
	resultHandler := results.NewHandler(resultRepo, logger)

	// Attendance log (asynchronous via the job queue)
	activityRepo := activity.NewRepository(pool)
	activityHandler := activity.NewHandler(activityRepo)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	hub.SetActivityRecorder(
		func(sessionID string, participantID uuid.UUID, joinedAt, _ time.Time) {
			_ = jobQueue.EnqueueActivity(context.Background(), queue.JobTypeActivityJoin, queue.ActivityPayload{
				SessionID: sessionID, ParticipantID: participantID, JoinedAt: joinedAt,
			})
		},
		func(sessionID string, participantID uuid.UUID, joinedAt, leftAt time.Time) {
			_ = jobQueue.EnqueueActivity(context.Background(), queue.JobTypeActivityLeave, queue.ActivityPayload{
				SessionID: sessionID, ParticipantID: participantID, JoinedAt: joinedAt, LeftAt: leftAt,
			})
		},
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Sessions
	router.POST("/sessions", sessionHandler.Create)
	router.GET("/sessions/:id", sessionHandler.GetByID)
	router.PATCH("/sessions/:id", sessionHandler.Update)
	router.PUT("/sessions/:id/average-estimate", sessionHandler.UpdateAverageEstimate)

	// Participants
	router.POST("/sessions/:id/participants", participantHandler.Join)
	router.GET("/sessions/:id/participants", participantHandler.ListBySession)
	router.POST("/sessions/:id/participants/clear-estimates", participantHandler.ClearEstimates)
	router.PATCH("/participants/:id", participantHandler.Update)

	// Results
	router.POST("/sessions/:id/results", resultHandler.Create)
	router.GET("/sessions/:id/results", resultHandler.ListBySession)
	router.PATCH("/results/:id", resultHandler.Update)
	router.DELETE("/results/:id", resultHandler.Delete)

	// Attendance log
	router.GET("/sessions/:id/activity", activityHandler.ListBySession)

	// WebSocket session channel
	router.GET("/ws", realtime.ServeWs(hub, logger, sessionRepo.Exists))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background workers (attendance log drain, stale presence sweep)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	processor := worker.NewActivityProcessor(activityRepo, jobQueue, logger)
	go processor.Run(workerCtx)
	sweeper := worker.NewPresenceSweeper(presence, hub, time.Duration(cfg.Presence.SweepIntervalSeconds)*time.Second, logger)
	go sweeper.Run(workerCtx)
	logger.Info("background workers started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
