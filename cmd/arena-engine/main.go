package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pdarena/internal/arena/controller"
	"pdarena/internal/arena/repository"
	"pdarena/internal/arena/sandbox"
	"pdarena/internal/arena/service"
	"pdarena/internal/common/cache"
	"pdarena/internal/common/db"
	"pdarena/internal/common/http/middleware"
	"pdarena/internal/common/mq"
	"pdarena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena_engine.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "arena engine stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	sandboxClient, err := sandbox.NewHTTPClient(appCfg.Sandbox, nil)
	if err != nil {
		return fmt.Errorf("init sandbox client failed: %w", err)
	}

	var mqClient mq.MessageQueue
	var publisher repository.SummaryPublisher
	if !appCfg.Kafka.Disabled {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = kafkaQueue.Close()
		}()
		mqClient = kafkaQueue
		publisher = repository.NewMQSummaryPublisher(kafkaQueue, appCfg.Kafka.SummaryTopic)
	}

	engine, err := service.NewEngine(service.EngineDeps{
		DB:                    mysqlDB,
		Submissions:           repository.NewSubmissionRepository(mysqlDB, redisCache),
		Tournaments:           repository.NewTournamentRepository(mysqlDB),
		TestcaseData:          repository.NewTestcaseDataRepository(mysqlDB),
		TournamentData:        repository.NewTournamentDataRepository(mysqlDB),
		TournamentSubmissions: repository.NewTournamentSubmissionRepository(mysqlDB),
		Results:               repository.NewMatchResolutionRepository(mysqlDB),
		Sandbox:               sandboxClient,
		RunLock:               repository.NewRunLock(redisCache, appCfg.Engine.RunLockTTL),
		Publisher:             publisher,
	}, appCfg.Engine.toOptions(sandboxClient.TimeLimit()))
	if err != nil {
		return fmt.Errorf("init engine failed: %w", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mqClient != nil {
		consumer := service.NewResolveConsumer(mqClient, engine)
		if err := consumer.Subscribe(shutdownCtx, appCfg.Kafka.ResolveTopic, appCfg.Kafka.ConsumerGroup, appCfg.Kafka.subscribeOptions()); err != nil {
			return fmt.Errorf("subscribe resolve topic failed: %w", err)
		}
		logger.Info(ctx, "resolve consumer started",
			zap.String("topic", appCfg.Kafka.ResolveTopic),
			zap.String("group", appCfg.Kafka.ConsumerGroup),
		)
	}

	httpServer := buildHTTPServer(appCfg.Server, engine)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "arena http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
	return nil
}

func buildHTTPServer(cfg ServerConfig, engine *service.Engine) *http.Server {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.AccessLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	controller.NewArenaController(engine).Register(router.Group("/api/v1/arena"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
