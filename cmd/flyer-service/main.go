package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"eventflyer/internal/common/cache"
	"eventflyer/internal/common/db"
	commonmw "eventflyer/internal/common/http/middleware"
	"eventflyer/internal/common/mq"
	"eventflyer/internal/common/schedule"
	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/controller"
	"eventflyer/internal/flyer/repository"
	"eventflyer/internal/flyer/service"
	"eventflyer/pkg/utils/logger"
	"eventflyer/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/flyer_service.yaml"

type closer func() error

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	eventRepo, closeStore, err := buildEventRepository(ctx, appCfg.Store, redisCache)
	if err != nil {
		logger.Error(ctx, "init event store failed", zap.Error(err), zap.String("driver", appCfg.Store.Driver))
		return
	}
	defer func() {
		_ = closeStore()
	}()

	flyerStorage, closeObjects, err := buildFlyerStorage(ctx, appCfg.Objects)
	if err != nil {
		logger.Error(ctx, "init object storage failed", zap.Error(err), zap.String("driver", appCfg.Objects.Driver))
		return
	}
	defer func() {
		_ = closeObjects()
	}()
	if policy, ok := flyerStorage.(storage.URLPolicy); ok && policy.PermanentURLs(appCfg.Flyer.URLTTL) {
		logger.Warn(ctx, "flyer urls grant effectively permanent read access",
			zap.String("driver", appCfg.Objects.Driver),
			zap.Duration("url_ttl", appCfg.Flyer.URLTTL),
		)
	}

	attachService := service.NewAttachService(eventRepo, flyerStorage, service.AttachOptions{
		URLTTL: appCfg.Flyer.URLTTL,
	})
	cleanupService := service.NewCleanupService(eventRepo, flyerStorage, service.CleanupOptions{
		Bucket:        appCfg.Objects.Bucket,
		Retention:     appCfg.Cleanup.Retention,
		Concurrency:   appCfg.Cleanup.Concurrency,
		RecordTimeout: appCfg.Cleanup.RecordTimeout,
	})
	cleanupSchedule, err := schedule.Parse(appCfg.Cleanup.Schedule)
	if err != nil {
		logger.Error(ctx, "parse cleanup schedule failed", zap.Error(err))
		return
	}
	scheduler := service.NewCleanupScheduler(cleanupService, cleanupSchedule, service.SchedulerOptions{
		Lock:    redisCache,
		LockTTL: appCfg.Cleanup.LockTTL,
	})

	var mqClient mq.MessageQueue
	if appCfg.Notifications.enabled() {
		mqClient, err = buildMessageQueue(ctx, appCfg.Notifications)
		if err != nil {
			logger.Error(ctx, "init notification queue failed", zap.Error(err), zap.String("driver", appCfg.Notifications.Driver))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		consumer := service.NewFinalizeConsumer(mqClient, attachService)
		if err := consumer.Subscribe(ctx, appCfg.Notifications.Topic, appCfg.Notifications.toSubscribeOptions()); err != nil {
			logger.Error(ctx, "subscribe object notifications failed", zap.Error(err))
			return
		}
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Run(shutdownCtx)
	}()

	health := func(c context.Context) error {
		if err := redisCache.Ping(c); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if mqClient != nil {
			if err := mqClient.Ping(c); err != nil {
				return fmt.Errorf("notifications: %w", err)
			}
		}
		return nil
	}
	flyerController := controller.NewFlyerController(eventRepo, attachService, scheduler, appCfg.Objects.Bucket)
	httpServer := buildHTTPServer(appCfg.Server, flyerController, redisCache, health)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "flyer http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
		stop()
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
	wg.Wait()
}

func buildEventRepository(ctx context.Context, cfg StoreConfig, cacheClient cache.BasicOps) (repository.EventRepository, closer, error) {
	switch cfg.Driver {
	case driverDatastore:
		client, err := repository.NewDatastoreClient(ctx, cfg.Datastore)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewDatastoreEventRepository(client), client.Close, nil
	default:
		mysqlDB, err := db.NewMySQLWithConfig(&cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewMySQLEventRepository(db.NewStaticProvider(mysqlDB), cacheClient), mysqlDB.Close, nil
	}
}

func buildFlyerStorage(ctx context.Context, cfg ObjectsConfig) (storage.FlyerStorage, closer, error) {
	switch cfg.Driver {
	case driverGCS:
		gcs, err := storage.NewGCSStorage(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs.Close, nil
	default:
		minioStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		return minioStorage, func() error { return nil }, nil
	}
}

func buildMessageQueue(ctx context.Context, cfg NotificationConfig) (mq.MessageQueue, error) {
	switch cfg.Driver {
	case driverPubSub:
		queue, err := mq.NewPubSubQueue(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		queue, err := mq.NewKafkaQueue(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return queue, nil
	}
}

func buildHTTPServer(cfg ServerConfig, flyerController *controller.FlyerController, counter cache.CounterOps, health func(context.Context) error) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		if err := health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		response.Success(c, gin.H{"status": "ok"})
	})
	flyerController.Register(router.Group("/api/v1"), commonmw.RateLimitMiddleware(counter, cfg.OperatorRateLimit))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
