// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/config"
	"osapio-go/internal/handler"
	"osapio-go/internal/middleware"
	"osapio-go/internal/model"
	"osapio-go/internal/pipeline"
	"osapio-go/internal/repository"
	"osapio-go/internal/service"
	"osapio-go/pkg/database"
	"osapio-go/pkg/es"
	"osapio-go/pkg/extract"
	"osapio-go/pkg/kafka"
	"osapio-go/pkg/llm"
	"osapio-go/pkg/log"
	"osapio-go/pkg/metrics"
	"osapio-go/pkg/storage"
	"osapio-go/pkg/tika"
	"osapio-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitDB(cfg.Database.DSN)
	if err := database.DB.AutoMigrate(&model.User{}, &model.UploadRecord{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.InitMinIO(bootCtx, cfg.MinIO)
	if err != nil {
		cancelBoot()
		log.Fatal("MinIO 初始化失败", err)
	}
	cancelBoot()

	// 4. 可选组件：Elasticsearch 与 Kafka 未配置时对应功能关闭
	var indexer service.AnalysisIndexer
	if cfg.Elasticsearch.Addresses != "" {
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Errorf("Elasticsearch 初始化失败，检索功能关闭: %v", err)
		} else {
			indexer = esClient
		}
	}

	var queue service.TaskQueue
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		queue = producer
	}

	extractors := []extract.Extractor{extract.NewLocal()}
	if cfg.Tika.ServerURL != "" {
		extractors = append([]extract.Extractor{tika.NewClient(cfg.Tika)}, extractors...)
	}

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	uploadRepo := repository.NewUploadRepository(database.DB)
	tokenRepo := repository.NewTokenRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	m := metrics.New("osapio")
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireMinutes, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepo, tokenRepo, jwtManager)
	uploadService := service.NewUploadService(uploadRepo, store, indexer, cfg.MinIO.BucketName, cfg.Analysis.ListLimit)
	analysisService := service.NewAnalysisService(uploadRepo, llmClient, queue, indexer, m, cfg.Analysis.MaxContentChars)
	searchService := service.NewSearchService(indexer)

	// 7. 初始化分析管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(analysisService, store, cfg.MinIO.BucketName, extractors...)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	if queue != nil {
		go func() {
			defer close(consumerDone)
			kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, tokenRepo)
		}()
	} else {
		close(consumerDone)
		log.Info("未配置 Kafka，异步分析已关闭")
	}

	var limiter *middleware.UserRateLimiter
	if cfg.Analysis.RatePerMinute > 0 {
		limiter = middleware.NewUserRateLimiter(cfg.Analysis.RatePerMinute, cfg.Analysis.Burst)
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		JWTManager:      jwtManager,
		UserService:     userService,
		UploadService:   uploadService,
		AnalysisService: analysisService,
		SearchService:   searchService,
		Streamer:        processor,
		Ping: func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		Metrics:         m,
		AnalysisLimiter: limiter,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	// 启动 HTTP 服务器并实现优雅停机
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

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

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
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if err := database.RDB.Close(); err != nil {
		log.Errorf("关闭 Redis 连接失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
