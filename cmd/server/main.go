package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/api"
	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/database"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
	"github.com/wfunc/trpg-master/internal/game/save"
	"github.com/wfunc/trpg-master/internal/game/session"
	"github.com/wfunc/trpg-master/internal/logger"
	"github.com/wfunc/trpg-master/internal/narrative"
	"github.com/wfunc/trpg-master/internal/plot"
	"github.com/wfunc/trpg-master/internal/repository"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	cache    *repository.RedisCache
	registry *session.Registry
	sweeper  *save.Sweeper
	router   *api.Router
	http     *http.Server
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	server := NewServer(cfg)
	if err := server.initComponents(); err != nil {
		logger.Fatal("服务器初始化失败", zap.Error(err))
	}

	config.Watch(func(newCfg *config.Config) {
		server.logger.Info("配置已更新", zap.Int("admins", len(newCfg.Admin.Users)))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("服务器异常退出", zap.Error(err))
	}
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
	}
}

// initComponents 初始化存储、服务与路由
func (s *Server) initComponents() error {
	s.logger.Info("正在启动跑团主持服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}

	repos := repository.NewManager(database.GetDB())
	if s.cfg.Redis.Enabled() {
		cache, err := repository.NewRedisCache(s.cfg.Redis)
		if err != nil {
			// 缓存不可用时直接访问数据库
			s.logger.Warn("Redis不可用，跳过缓存", zap.Error(err))
		} else {
			s.cache = cache
			repos.WithCache(cache, s.cfg.Redis.KeyPrefix, s.cfg.Redis.TTL, logger.WithModule("cache"))
		}
	}

	plots, err := plot.NewFileSource(s.cfg.Plot.Dir)
	if err != nil {
		return err
	}

	var narrator narrative.Collaborator
	if s.cfg.Narrative.Enabled && s.cfg.Narrative.APIKey != "" {
		narrator = narrative.NewClient(s.cfg.Narrative, logger.WithModule("narrative"))
	} else {
		s.logger.Warn("剧情服务未配置，推进剧情将使用兜底文本")
	}

	catalog := game.NewCatalog()
	roller := game.NewRandomRoller()
	isAdmin := func(userID string) bool { return config.Get().IsAdmin(userID) }

	accounts := account.NewService(repos.Users(), logger.WithModule("account"))
	characters := character.NewService(repos.Characters(), catalog, roller, s.cfg.Game.QuotaPerRuleSet, logger.WithModule("character"))
	s.registry = session.NewRegistry(&session.RegistryConfig{
		Game:             s.cfg.Game,
		Characters:       characters,
		Accounts:         accounts,
		Plots:            plots,
		Narrator:         narrator,
		Catalog:          catalog,
		Roller:           roller,
		Clock:            session.RealClock(),
		Logger:           logger.WithModule("session"),
		IsAdmin:          isAdmin,
		FallbackText:     s.cfg.Narrative.FallbackText,
		NarrativeTimeout: s.cfg.Narrative.Timeout,
	})
	gateway := save.NewGateway(repos.Saves(), s.registry, isAdmin, logger.WithModule("save"))
	if s.cfg.Retention.Enabled {
		s.sweeper = save.NewSweeper(repos.Saves(), s.cfg.Retention, logger.WithModule("retention"))
	}

	if s.cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = api.NewRouter(database.GetDB(), &api.Services{
		Accounts:   accounts,
		Characters: characters,
		Sessions:   s.registry,
		Saves:      gateway,
		Plots:      plots,
		Catalog:    catalog,
		Roller:     roller,
	}, logger.WithModule("http"))
	s.http = s.router.Server(s.cfg.Server.Addr())
	s.http.ReadTimeout = s.cfg.Server.ReadTimeout
	s.http.WriteTimeout = s.cfg.Server.WriteTimeout

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	if s.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// Run 运行HTTP服务与存档清理，ctx 取消或任一任务失败时返回
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.router.Run(gctx, s.http)
	})
	if s.sweeper != nil {
		g.Go(func() error {
			return s.sweeper.Run(gctx)
		})
	}
	s.logger.Info("服务器启动成功", zap.String("http", s.http.Addr))
	return g.Wait()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
		firstErr = errors.Wrap(err, errors.ErrTimeout, "关闭超时")
	}

	// 停止所有会话计时器
	s.registry.Close()

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("关闭Redis失败", zap.Error(err))
		}
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return firstErr
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("跑团主持服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("跑团主持服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  trpg-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  TRPG_SERVER_PORT       HTTP端口")
	fmt.Println("  TRPG_DATABASE_DSN      数据库连接串")
	fmt.Println("  TRPG_NARRATIVE_API_KEY 剧情服务密钥")
	fmt.Println("  TRPG_ADMIN_USERS       管理员列表")
}
