package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/controller"
	"quiz_solver_backend/internal/service"
	"quiz_solver_backend/pkg/browser"
	"quiz_solver_backend/pkg/logger"
	"quiz_solver_backend/pkg/monitoring"
	"quiz_solver_backend/pkg/security"
	"quiz_solver_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config
	Router *gin.Engine

	services *services

	mu sync.RWMutex
}

type services struct {
	ai         *service.AIService
	session    *service.SessionService
	extractor  *service.ExtractorService
	resolver   *service.ResolverService
	submission *service.SubmissionService
	storage    *service.StorageService
	solver     *service.SolverService
}

type controllers struct {
	solve  *controller.SolveController
	health *controller.HealthController
}

func (a *App) initServices(cfg *config.Config) *services {
	s := &services{}

	launcher := browser.NewChromeLauncher(browser.Options{
		ExecPath:      cfg.Browser.ExecPath,
		Headless:      !cfg.Browser.Headful,
		NoSandbox:     cfg.Browser.NoSandbox,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
		OpTimeout:     cfg.Browser.NavTimeout,
	})

	s.ai = service.NewAIService(cfg.AI)
	s.session = service.NewSessionService(launcher, cfg.Credentials, cfg.Browser)
	s.extractor = service.NewExtractorService()
	s.resolver = service.NewResolverService(s.ai, cfg.AI, cfg.Solver)
	s.submission = service.NewSubmissionService(cfg.Solver)
	s.storage = service.NewStorageService(cfg)
	s.solver = service.NewSolverService(s.session, s.extractor, s.resolver, s.submission, s.storage, cfg.Solver)

	return s
}

func (a *App) initControllers(s *services, cfg *config.Config) *controllers {
	return &controllers{
		solve:  controller.NewSolveController(s.solver, cfg.Credentials),
		health: controller.NewHealthController(s.session, cfg.Credentials, cfg.AI),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// ReloadSolverConfig 配置文件热更新回调：仅刷新求解链的可调参数，
// 凭据与浏览器配置在进程生命周期内保持不变
func (a *App) ReloadSolverConfig(cfg *config.Config) {
	a.mu.Lock()
	a.Config.Solver = cfg.Solver
	a.mu.Unlock()

	a.services.solver.UpdateConfig(cfg.Solver)

	logger.Log.Info("solver config reloaded",
		zap.Int("max_quizzes", cfg.Solver.MaxQuizzes),
		zap.Duration("quiz_timeout", cfg.Solver.QuizTimeout),
		zap.Bool("capture_screenshots", cfg.Solver.CaptureScreenshots))
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	app := &App{Config: cfg}

	s := app.initServices(cfg)
	app.services = s
	c := app.initControllers(s, cfg)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("quiz-solver", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, c)

	if cfg.Storage.Type == "local" {
		router.Static("/artifacts", cfg.Storage.LocalPath)
	}

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

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// 活跃会话对应真实浏览器进程，关停前确保全部回收
	a.services.session.Shutdown()

	log.Println("Server exiting")
}
