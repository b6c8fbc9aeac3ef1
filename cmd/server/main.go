// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/handler"
	"prompt-forge-go/internal/middleware"
	"prompt-forge-go/internal/pipeline"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/database"
	"prompt-forge-go/pkg/embedding"
	"prompt-forge-go/pkg/es"
	"prompt-forge-go/pkg/kafka"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/storage"
	"prompt-forge-go/pkg/tika"
	"prompt-forge-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	var embedder embedding.Client
	vectorDims := 0
	if cfg.Embedding.Enabled() {
		embedder = embedding.NewClient(cfg.Embedding)
		vectorDims = cfg.Embedding.Dimensions
	}
	if err := es.InitES(cfg.Elasticsearch, vectorDims); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	promptRepo := repository.NewPromptRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)
	attachmentRepo := repository.NewAttachmentRepository(database.RDB)
	tokenRepo := repository.NewTokenRepository(database.RDB)

	// 5. 初始化 Service
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	providers := registry.New(cfg.Providers, cfg.LLM)
	llmClient := llm.NewClient(cfg.LLM)
	hub := service.NewEventHub()
	promptIndex := es.Index{Name: cfg.Elasticsearch.IndexName, Embedder: embedder}
	var extractor service.TextExtractor
	if cfg.Tika.ServerURL != "" {
		extractor = tika.NewClient(cfg.Tika)
	}

	userService := service.NewUserService(userRepo, tokenRepo, jwtManager)
	sessionService := service.NewSessionService(sessionRepo, providers, llmClient, hub, cfg.Workflow)
	libraryService := service.NewLibraryService(promptRepo, producer, promptIndex)
	attachmentService := service.NewAttachmentService(attachmentRepo, storage.Bucket{Name: cfg.MinIO.BucketName}, extractor, cfg.Attachments)

	// 6. 启动后台索引消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	processor := pipeline.NewProcessor(promptRepo, promptIndex)
	consumer := kafka.NewConsumer(cfg.Kafka, processor, kafka.RedisAttempts{RDB: database.RDB})
	go func() {
		defer close(consumerDone)
		consumer.Run(consumerCtx)
	}()

	// 7. 设置 Gin 并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r, handler.Handlers{
		User:       handler.NewUserHandler(userService),
		Auth:       handler.NewAuthHandler(userService),
		Provider:   handler.NewProviderHandler(providers),
		Session:    handler.NewSessionHandler(sessionService, attachmentService, libraryService, providers),
		Library:    handler.NewLibraryHandler(libraryService),
		Attachment: handler.NewAttachmentHandler(attachmentService),
		Socket:     handler.NewSocketHandler(sessionService, userService, hub, jwtManager),
	}, middleware.AuthMiddleware(userService))

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 中断运行中的生成，使快照以空闲状态落盘
	sessionService.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}
