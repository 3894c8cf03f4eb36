package server

import (
	"net/http"
	"time"

	"teamchat/internal/auth"
	"teamchat/internal/config"
	"teamchat/internal/metrics"
	"teamchat/internal/mw"
	"teamchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, mgr *ws.Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免 REST 面被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(cfg, db, mgr)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.POST("/conversations", h.CreateConversation)
	authed.GET("/conversations", h.ListConversations)
	authed.GET("/conversations/:id/messages", h.ListMessages)
	authed.GET("/polls/:id", h.GetPoll)
	authed.GET("/users/:id/presence", h.GetPresence)

	r.GET("/ws", ws.Serve(mgr))
	return r
}
