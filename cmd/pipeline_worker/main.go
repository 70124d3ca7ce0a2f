package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_pipeline_service/internal/pipeline/api/grpcserver"
	"video_pipeline_service/internal/pipeline/api/handlers"
	"video_pipeline_service/internal/pipeline/api/router"
	"video_pipeline_service/internal/pipeline/app"
	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/media"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/config"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"
	testtool "video_pipeline_service/pkg/test_tool"
	"video_pipeline_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.PipelineService, config.EnvConfig.PipelineServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Pipeline](config.EnvConfig.PipelineService, config.EnvConfig.PipelineServiceYAMLPath, config.PipelineDefaults)
	token.SetSecret(cfg.Auth.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 連線 PostgreSQL
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.PostgreSQL.Host, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database, cfg.PostgreSQL.Port)
	pgConn := database.Connection{
		ConnectStr:    dsn,
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	}
	db, err := database.NewPGConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	pool, err := database.NewDatabaseConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to create postgreSQL health pool", zap.Error(err))
	}
	defer pool.Close()

	videoRepo := repository.NewVideoRepo(db)
	if err := videoRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("資料表遷移失敗", zap.Error(err))
	}

	// 2. MinIO
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:      fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
		User:          cfg.MinIO.User,
		Password:      cfg.MinIO.Password,
		BucketName:    cfg.MinIO.BucketName,
		UseSSL:        cfg.MinIO.UseSSL,
		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to minio after retries", zap.String("host", cfg.MinIO.Host), zap.Error(err))
	}

	// 3. Redis，有 sentinel 設定時走哨兵
	masterName, sentinelAddrs := config.GetRedisSetting()
	rdb, err := database.NewRedisClient(database.RedisConnection{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.RedisDB,
		MasterName:    masterName,
		SentinelAddrs: sentinelAddrs,
		RetryCount:    cfg.Redis.RetryCount,
		RetryInterval: time.Duration(cfg.Redis.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to redis after retries", zap.Error(err))
	}
	defer rdb.Close()
	jobRecords := database.NewRedisRepository[domain.JobRecord](rdb)
	heartbeats := database.NewRedisRepository[int64](rdb)

	// 4. RabbitMQ
	rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port)
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    rabbitURL,
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("RabbitMQ 連線失敗", zap.Error(err))
	}
	defer conn.Close()

	rabbitChannel, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, time.Duration(cfg.RabbitMQ.RetryInterval))
	if err != nil {
		logger.Log.Fatal("取得 RabbitMQ Channel 失敗", zap.Error(err))
	}
	defer rabbitChannel.Close()
	rabbit := database.NewRabbitRepository(conn, rabbitChannel)

	queue := app.NewJobQueue(rabbit, jobRecords, app.QueueOptions{
		Name:          cfg.Queue.Name,
		Policy:        domain.QueuePolicy{Attempts: cfg.Queue.Attempts, BackoffBase: cfg.Queue.BackoffBase},
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
		JobTTL:        cfg.Queue.JobTTL,
		Lease:         cfg.Queue.Lease,
	})
	if err := queue.DeclareTopology(); err != nil {
		logger.Log.Fatal("Queue Declare failed", zap.Error(err))
	}

	// 5. Kafka / Mongo 為選配
	events := repository.NewNoopEventPublisher()
	if cfg.KafKa.Enabled {
		kafkaWriter, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.KafKa.Brokers,
			Topic:         cfg.KafKa.Topic,
			RetryCount:    cfg.KafKa.RetryCount,
			RetryInterval: time.Duration(cfg.KafKa.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Kafka Writer 建立失敗", zap.Error(err))
		}
		events = repository.NewKafkaEventPublisher(kafkaWriter)
	}
	defer events.Close()

	attempts := repository.NewNoopAttemptRepo()
	if cfg.MongoDB.Enabled {
		mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoDB.User, cfg.MongoDB.Password, cfg.MongoDB.Host, cfg.MongoDB.Port)
		mongoDB, err := database.NewMongoDB(ctx, database.Connection{
			ConnectStr:    mongoURI,
			RetryCount:    cfg.MongoDB.RetryCount,
			RetryInterval: time.Duration(cfg.MongoDB.RetryInterval),
		}, cfg.MongoDB.Database)
		if err != nil {
			logger.Log.Fatal("Unable to connect to mongoDB after retries", zap.Error(err))
		}
		defer mongoDB.Close(context.Background())
		attempts = repository.NewMongoAttemptRepo(mongoDB.Database)
		if err := attempts.EnsureIndexes(ctx); err != nil {
			logger.Log.Warn("create attempt indexes", zap.Error(err))
		}
	}

	// 6. stages 與 worker pool
	if n, err := app.SweepScratch(cfg.Worker.ScratchDir); err != nil {
		logger.Log.Fatal("scratch dir 無法使用", zap.String("dir", cfg.Worker.ScratchDir), zap.Error(err))
	} else if n > 0 {
		logger.Log.Info("removed leftover scratch dirs", zap.Int("count", n))
	}

	tools := media.NewTools(media.Options{
		FFmpegBin:         cfg.Media.FFmpegBin,
		FFprobeBin:        cfg.Media.FFprobeBin,
		WhisperBin:        cfg.Media.WhisperBin,
		WhisperModel:      cfg.Media.WhisperModel,
		ModelsDir:         cfg.Media.ModelsDir,
		Language:          cfg.Media.Language,
		ComposeTimeout:    cfg.Media.ComposeTimeout,
		ProbeTimeout:      cfg.Media.ProbeTimeout,
		ThumbnailTimeout:  cfg.Media.ThumbnailTimeout,
		ExtractTimeout:    cfg.Media.ExtractTimeout,
		TranscribeTimeout: cfg.Media.TranscribeTimeout,
	}, nil)

	processor := app.NewVideoProcessor(app.ProcessorDeps{
		Videos:               videoRepo,
		Composer:             app.NewComposeStage(minioClient, tools),
		Thumbnailer:          app.NewThumbnailStage(minioClient, tools, videoRepo),
		Transcriber:          app.NewTranscribeStage(minioClient, tools, videoRepo),
		Events:               events,
		Attempts:             attempts,
		ScratchDir:           cfg.Worker.ScratchDir,
		TranscriptionEnabled: cfg.Worker.TranscriptionEnabled,
	})
	hostname, _ := os.Hostname()
	consumer := app.NewConsumer(queue, processor, cfg.Worker.Concurrency, "pipeline-"+hostname)
	heartbeat := app.NewHeartbeat(heartbeats, cfg.Worker.HeartbeatInterval, cfg.Worker.HeartbeatTTL, consumer.Alive)

	health := app.NewHealthChecker(map[string]app.Pinger{
		"db":      app.PingFunc(pool.Ping),
		"storage": minioClient,
		"redis":   jobRecords,
		"rabbitmq": app.PingFunc(func(context.Context) error {
			if rabbit.IsClosed() {
				return fmt.Errorf("rabbitmq connection closed")
			}
			return nil
		}),
		"worker": app.WorkerPinger(func(ctx context.Context) (bool, error) {
			return app.WorkerAlive(ctx, heartbeats, cfg.Worker.StaleAfter)
		}),
	}, 3*time.Second)

	// 7. internal API
	usecase := app.NewPipelineUseCase(videoRepo, minioClient, queue, events, attempts, cfg.MinIO.PresignExpiry)
	server := fiber.New(fiber.Config{DisableStartupMessage: true})
	server.Use(fiber_log.New(fiber_log.Config{Output: os.Stdout}))
	router.RegisterRoutes(server, handlers.NewPipelineHandler(usecase), health)

	// 8. grpc health，給 orchestrator probe 使用
	lis, err := net.Listen("tcp", cfg.IP+":"+cfg.GRPCPort)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("Failed to listen Port(%s): ", cfg.GRPCPort), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	grpcHealth := grpcserver.NewHealthServer(health, 10*time.Second)
	grpcHealth.Register(grpcServer)

	testtool.StartPprof()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return heartbeat.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		addr := cfg.IP + ":" + cfg.Port
		logger.Log.Info(fmt.Sprintf("pipeline worker listening on : %s", addr))
		return server.Listen(addr)
	})
	g.Go(func() error { return grpcHealth.Run(gctx) })
	g.Go(func() error {
		logger.Log.Info(fmt.Sprintf("grpc health listening on : %s", lis.Addr()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return server.ShutdownWithTimeout(10 * time.Second)
	})

	// consumer 中斷時以非 0 結束，交給 orchestrator 重啟
	if err := g.Wait(); err != nil {
		logger.Log.Fatal("pipeline worker stopped", zap.Error(err))
	}
	logger.Log.Info("pipeline worker exited")
}
