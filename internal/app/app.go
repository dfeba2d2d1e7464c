package app

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/controller"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/service"
	"adaptive_engine_backend/pkg/database"
	"adaptive_engine_backend/pkg/logger"
	"adaptive_engine_backend/pkg/monitoring"
	"adaptive_engine_backend/pkg/security"
	"adaptive_engine_backend/pkg/tracing"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
}

type repositories struct {
	user     *repository.UserRepository
	concept  *repository.ConceptRepository
	item     *repository.ItemRepository
	response *repository.ResponseRepository
	mastery  *repository.MasteryRepository
	session  *repository.SessionRepository
}

type services struct {
	auth        *service.AuthService
	generation  *service.GenerationService
	graph       *service.GraphService
	calibration *service.CalibrationService
	itemBank    *service.ItemBankService
	followUp    *service.FollowUpService
	mastery     *service.MasteryService
	session     *service.SessionService
}

type controllers struct {
	auth    *controller.AuthController
	session *controller.SessionController
	mastery *controller.MasteryController
	item    *controller.ItemController
	concept *controller.ConceptController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		concept:  repository.NewConceptRepository(db),
		item:     repository.NewItemRepository(db),
		response: repository.NewResponseRepository(db),
		mastery:  repository.NewMasteryRepository(db),
		session:  repository.NewSessionRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.auth = service.NewAuthService(repos.user, cfg)
	s.generation = service.NewGenerationService(cfg.Generation)
	s.graph = service.NewGraphService(cfg.Graph)
	s.calibration = service.NewCalibrationService(repos.response, s.graph)
	s.itemBank = service.NewItemBankService(repos.item, repos.response, cfg.Engine)
	s.followUp = service.NewFollowUpService(s.graph, repos.response, s.itemBank)
	s.mastery = service.NewMasteryService(repos.mastery, repos.response, repos.concept, rdb)
	s.session = service.NewSessionService(
		repos.session,
		repos.item,
		repos.response,
		repos.concept,
		s.calibration,
		s.itemBank,
		s.followUp,
		s.mastery,
		s.generation,
		rdb,
		cfg.Engine,
	)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		session: controller.NewSessionController(s.session),
		mastery: controller.NewMasteryController(s.mastery, repos.user),
		item:    controller.NewItemController(repos.item, repos.concept, s.itemBank, s.graph),
		concept: controller.NewConceptController(repos.concept),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 周期性补算区分度，不阻塞请求路径
func (a *App) startBackgroundTasks(s *services) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		for range ticker.C {
			if err := s.itemBank.SweepDiscrimination(); err != nil {
				logger.Log.Error("discrimination sweep error", zap.Error(err))
			}
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("adaptive-engine", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
