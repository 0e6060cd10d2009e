package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/khiemvuong/e-commerce-saas-sub002/config"
	"github.com/khiemvuong/e-commerce-saas-sub002/handlers"
	"github.com/khiemvuong/e-commerce-saas-sub002/kafka"
	"github.com/khiemvuong/e-commerce-saas-sub002/limiter"
	custommiddleware "github.com/khiemvuong/e-commerce-saas-sub002/middleware"
	"github.com/khiemvuong/e-commerce-saas-sub002/models"
	"github.com/khiemvuong/e-commerce-saas-sub002/redis"
	"github.com/khiemvuong/e-commerce-saas-sub002/services"
	"github.com/khiemvuong/e-commerce-saas-sub002/worker"
)

type Server struct {
	Echo                *echo.Echo
	DB                  *gorm.DB
	Config              *config.Config
	AuthHandler         *handlers.AuthHandler
	ConversationHandler *handlers.ConversationHandler
	ChatGatewayHandler  *handlers.ChatGatewayHandler

	producer *kafka.Producer
	consumer *kafka.Consumer
	worker   *worker.Worker
	rdb      *redis.RedisClient
	limiter  *limiter.Manager
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	rdb, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	// Kafka：网关侧同步生产者 + worker 侧消费组
	saramaCfg, err := kafka.NewSaramaConfig(&cfg.Kafka)
	if err != nil {
		log.Fatal("Failed to build kafka config:", err)
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		log.Fatal("Failed to create kafka producer:", err)
	}
	chatLog := kafka.NewChatLog(producer, cfg.Kafka.Topic)

	persistenceWorker := worker.NewWorker(worker.NewGormMessageStore(db), rdb, worker.DefaultFlushWindow)
	consumerCfg, err := kafka.NewSaramaConfig(&cfg.Kafka)
	if err != nil {
		log.Fatal("Failed to build kafka consumer config:", err)
	}
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}, consumerCfg, persistenceWorker)
	if err != nil {
		log.Fatal("Failed to create kafka consumer:", err)
	}

	// 初始化 Echo
	e := echo.New()
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	rateLimiter := limiter.NewManager(rdb.Client, &limiter.FixedWindowStrategy{})
	authService := services.NewAuthService(db, &cfg.Auth)
	conversationService := services.NewConversationService(db, rdb)
	authHandler := handlers.NewAuthHandler(authService)
	conversationHandler := handlers.NewConversationHandler(conversationService)
	chatGatewayHandler := handlers.NewChatGatewayHandler(rdb, chatLog, rateLimiter)

	s := &Server{
		Echo:                e,
		DB:                  db,
		Config:              &cfg,
		AuthHandler:         authHandler,
		ConversationHandler: conversationHandler,
		ChatGatewayHandler:  chatGatewayHandler,
		producer:            producer,
		consumer:            consumer,
		worker:              persistenceWorker,
		rdb:                 rdb,
		limiter:             rateLimiter,
	}

	// --- 设置路由 ---
	authMiddleware := custommiddleware.AuthMiddleware(authService)
	s.SetupRoutes(authMiddleware)
	return s
}

// Start 拉起消费组后启动 HTTP 服务，收到信号后按依赖顺序收尾：
// 先停消费、再冲刷缓冲区，最后关生产者和连接
func (s *Server) Start(addr string) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			log.Errorf("Consumer stopped: %v", err)
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		cancel()
		if err := s.consumer.Close(); err != nil {
			log.Errorf("Failed to close consumer: %v", err)
		}
		s.worker.Stop()
		if err := s.producer.Close(); err != nil {
			log.Errorf("Failed to close producer: %v", err)
		}
		if err := s.rdb.Close(); err != nil {
			log.Errorf("Failed to close redis: %v", err)
		}
		if err := s.Echo.Shutdown(context.Background()); err != nil {
			log.Errorf("Failed to shutdown server: %v", err)
		}
	}()

	if err := s.Echo.Start(addr); err != nil {
		log.Info("Server stopped:", err)
	}
}
