// Package api 跑团引擎的HTTP适配层
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
	"github.com/wfunc/trpg-master/internal/game/save"
	"github.com/wfunc/trpg-master/internal/game/session"
	"github.com/wfunc/trpg-master/internal/middleware"
	"github.com/wfunc/trpg-master/internal/plot"
)

// Services 路由依赖的服务
type Services struct {
	Accounts   *account.Service
	Characters *character.Service
	Sessions   *session.Registry
	Saves      *save.Gateway
	Plots      plot.Source
	Catalog    *game.Catalog
	Roller     game.Roller
}

// Router API路由器
type Router struct {
	engine   *gin.Engine
	db       *gorm.DB
	services *Services
	log      *zap.Logger

	accountHandler   *AccountHandler
	characterHandler *CharacterHandler
	sessionHandler   *SessionHandler
	combatHandler    *CombatHandler
	saveHandler      *SaveHandler
}

// NewRouter 创建路由器，db 为空时健康检查跳过数据库
func NewRouter(db *gorm.DB, services *Services, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.Recovery())

	r := &Router{
		engine:           engine,
		db:               db,
		services:         services,
		log:              log,
		accountHandler:   NewAccountHandler(services.Accounts),
		characterHandler: NewCharacterHandler(services.Accounts, services.Characters, services.Catalog),
		sessionHandler:   NewSessionHandler(services.Sessions, services.Plots, services.Roller),
		combatHandler:    NewCombatHandler(services.Sessions),
		saveHandler:      NewSaveHandler(services.Saves),
	}
	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/rulesets", r.characterHandler.ListRuleSets)
		v1.GET("/plots", r.sessionHandler.ListPlots)
		v1.GET("/dice/:sides", r.sessionHandler.Dice)

		authed := v1.Group("")
		authed.Use(middleware.RequireUser())
		{
			authed.POST("/register", r.accountHandler.Register)
			authed.GET("/me", r.accountHandler.Me)

			chars := authed.Group("/characters")
			{
				chars.POST("", r.characterHandler.Create)
				chars.POST("/random", r.characterHandler.Random)
				chars.GET("", r.characterHandler.List)
				chars.GET("/:rid", r.characterHandler.Get)
				chars.DELETE("/:rid", r.characterHandler.Delete)
			}

			sessions := authed.Group("/sessions")
			{
				sessions.POST("", r.sessionHandler.Start)
				sessions.GET("", r.sessionHandler.List)
				sessions.GET("/current", r.sessionHandler.Current)
				sessions.GET("/:id", r.sessionHandler.Get)
				sessions.POST("/:id/join", r.sessionHandler.Join)
				sessions.POST("/:id/attach", r.sessionHandler.Attach)
				sessions.POST("/:id/skip", r.sessionHandler.Skip)
				sessions.POST("/:id/kick", r.sessionHandler.Kick)
				sessions.POST("/:id/end", r.sessionHandler.End)
				sessions.POST("/:id/check", r.sessionHandler.Check)
				sessions.POST("/:id/plot/advance", r.sessionHandler.AdvancePlot)

				sessions.POST("/:id/combat", r.combatHandler.Start)
				sessions.GET("/:id/combat", r.combatHandler.Status)
				sessions.POST("/:id/combat/attack", r.combatHandler.Attack)
				sessions.DELETE("/:id/combat", r.combatHandler.End)

				sessions.POST("/:id/npcs", r.combatHandler.CreateNPC)
				sessions.GET("/:id/npcs", r.combatHandler.ListNPCs)
				sessions.DELETE("/:id/npcs/:npc", r.combatHandler.RemoveNPC)
				sessions.PUT("/:id/npcs/:npc/combat", r.combatHandler.SetNPCCombat)

				sessions.POST("/:id/items", r.combatHandler.GiveItem)
				sessions.GET("/:id/items", r.combatHandler.ListItems)
				sessions.POST("/:id/hp", r.combatHandler.AdjustHP)

				sessions.POST("/:id/saves", r.saveHandler.Save)
			}

			saves := authed.Group("/saves")
			{
				saves.GET("", r.saveHandler.List)
				saves.GET("/:saveId", r.saveHandler.Get)
				saves.POST("/:saveId/load", r.saveHandler.Load)
				saves.DELETE("/:saveId", r.saveHandler.Delete)
			}
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		fail(c, errors.New(errors.ErrNotFound, "接口不存在"))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": "数据库连接失败"})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": "数据库ping失败"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"message":  "服务运行正常",
		"sessions": len(r.services.Sessions.List()),
	})
}

// Server 按地址创建HTTP服务器
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{Addr: addr, Handler: r.engine}
}

// Run 运行服务器直到 ctx 取消
func (r *Router) Run(ctx context.Context, srv *http.Server) error {
	r.log.Info("HTTP服务启动", zap.String("address", srv.Addr))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
