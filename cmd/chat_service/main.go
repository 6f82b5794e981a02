package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatroom_realtime_service/internal/chat/app"
	"chatroom_realtime_service/internal/chat/repository"
	"chatroom_realtime_service/internal/chat/router"
	notifyrepo "chatroom_realtime_service/internal/notification/repository"
	"chatroom_realtime_service/pkg/config"
	"chatroom_realtime_service/pkg/database"
	"chatroom_realtime_service/pkg/logger"
	testtool "chatroom_realtime_service/pkg/test_tool"
	"chatroom_realtime_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	token.SetSecret(cfg.JWTSecret)
	testtool.StartPprof()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 建立 PostgreSQL 連線 (訊息 / 成員)
	pgConn := database.Connection{
		ConnectStr:    database.PostgresDSN(cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database),
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	}
	pgPool, err := database.NewDatabaseConnection(ctx, pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgreSQL after retries", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	defer pgPool.Close()

	gormDB, err := database.NewGormConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to open gorm connection", zap.Error(err))
	}

	// 2. 建立 Mongo 連線 (聊天室)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.MongoSQL.Host, cfg.MongoSQL.Port)),
			zap.Error(err),
		)
	}
	defer mongo.Close(context.Background())

	// 3. 建立 Redis 連線 (Pub/Sub 與 read state)
	redisClient := mustRedis(ctx, cfg.Redis)
	defer redisClient.Close()

	// 4. 初始化 Repository
	msgRepo := repository.NewMessageRepository(pgPool)
	partRepo := repository.NewParticipantRepository(gormDB)
	roomRepo := repository.NewMongoRoomRepository(mongo.Database)
	deviceRepo := notifyrepo.NewMongoDeviceRepository(mongo.Database)
	pubsub := repository.NewRedisPubSub(redisClient)
	kv := repository.NewRedisKV(redisClient)

	if err := msgRepo.Migrate(ctx); err != nil {
		logger.Log.Fatal("migrate messages failed", zap.Error(err))
	}
	if err := partRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("migrate participants failed", zap.Error(err))
	}

	// 5. kafka 沒設定時不送推播紀錄
	var events repository.MessageEventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("connect kafka failed", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		events = repository.NewKafkaEventPublisher(writer)
		defer events.Close()
	} else {
		logger.Log.Warn("kafka brokers not set, push records disabled")
	}

	// 6. 初始化 UseCases
	messageUC := app.NewMessageUseCase(msgRepo, partRepo, roomRepo, events, pubsub)
	roomUC := app.NewRoomUseCase(roomRepo, partRepo, messageUC)

	// 7. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	// 注册路由
	router.RegisterRoutes(r,
		app.NewChatWebsocketHandler(roomUC, messageUC, msgRepo, kv, pubsub, cfg.Sync),
		app.NewChatHTTPHandler(roomUC, msgRepo, cfg.Sync.PageSize, deviceRepo),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		port := ":" + cfg.Port
		logger.Log.Info("Chat Service listening", zap.String("port", port))
		return r.Listen(port)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Chat Service shutting down")
		return r.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("Chat Service stopped", zap.Error(err))
	}
}

func mustRedis(ctx context.Context, c config.RedisConfig) *redis.Client {
	conn := database.RedisConnection{Addr: c.Addr, Password: c.Password, DB: c.RedisDB}
	if c.Addr == "" {
		conn.MasterName, conn.SentinelAddrs = config.GetRedisSetting()
	}
	client, err := database.NewRedisClient(ctx, conn)
	if err != nil {
		logger.Log.Fatal("connect redis failed", zap.Error(err))
	}
	return client
}
