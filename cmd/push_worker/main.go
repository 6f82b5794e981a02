package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatrepo "chatroom_realtime_service/internal/chat/repository"
	"chatroom_realtime_service/internal/notification/app"
	notifydomain "chatroom_realtime_service/internal/notification/domain"
	"chatroom_realtime_service/internal/notification/repository"
	"chatroom_realtime_service/pkg/config"
	"chatroom_realtime_service/pkg/database"
	"chatroom_realtime_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.PushWorker, config.EnvConfig.PushWorkerLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Push](config.EnvConfig.PushWorker, config.EnvConfig.PushWorkerYAMLPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 成員清單 (PostgreSQL)
	gormDB, err := database.NewGormConnection(database.Connection{
		ConnectStr:    database.PostgresDSN(cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database),
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to open gorm connection", zap.Error(err))
	}

	// 2. 裝置 token (MongoDB)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    uri,
		RetryCount:    cfg.MongoSQL.RetryCount,
		RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
	}, cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB database after retries", zap.Error(err))
	}
	defer mongo.Close(context.Background())

	// 3. RabbitMQ 推播批次佇列
	rabbit, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    database.RabbitURL(cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port),
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("connect rabbitmq failed", zap.Error(err))
	}
	defer rabbit.Close()

	ch, err := database.GetRabbitMQChannelWithRetry(rabbit, cfg.RabbitMQ.RetryCount, time.Duration(cfg.RabbitMQ.RetryInterval))
	if err != nil {
		logger.Log.Fatal("open rabbitmq channel failed", zap.Error(err))
	}
	defer ch.Close()

	queueName := cfg.RabbitMQ.Queue
	if queueName == "" {
		queueName = notifydomain.PushQueue
	}
	if err := database.DeclareDurableQueue(ch, queueName); err != nil {
		logger.Log.Fatal("declare push queue failed", zap.String("queue", queueName), zap.Error(err))
	}
	queue := repository.NewRabbitPushQueue(ch, queueName)
	deliveries, err := queue.Consume(config.EnvConfig.PushWorker)
	if err != nil {
		logger.Log.Fatal("consume push queue failed", zap.Error(err))
	}

	// 4. Kafka 訊息紀錄
	reader := database.NewKafkaReader(database.KafkaConnection{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer reader.Close()

	dispatcher := app.NewDispatcher(
		reader,
		chatrepo.NewParticipantRepository(gormDB),
		repository.NewMongoDeviceRepository(mongo.Database),
		queue,
		cfg.Provider.BatchSize,
	)
	sender := app.NewSender(repository.NewHTTPPushProvider(cfg.Provider.URL, cfg.Provider.AccessToken, cfg.Provider.Timeout))

	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("push dispatcher started", zap.String("topic", cfg.Kafka.Topic))
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Log.Info("push sender started", zap.String("queue", queueName))
		return sender.Run(gctx, deliveries)
	})
	g.Go(func() error {
		return metricsApp.Listen(":" + cfg.MetricsPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		return metricsApp.ShutdownWithTimeout(5 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("push worker stopped", zap.Error(err))
	}
	logger.Log.Info("push worker exit")
}
