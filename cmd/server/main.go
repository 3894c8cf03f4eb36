package main

import (
	"teamchat/internal/config"
	"teamchat/internal/db"
	clog "teamchat/internal/log"
	"teamchat/internal/repo"
	"teamchat/internal/server"
	"teamchat/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// 加载配置、初始化日志、连接数据库并启动服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	insight := ws.NewAsyncInsight(ws.LogInsight{}, 1024)
	defer insight.Stop()

	mgr := ws.NewManager(cfg, repo.NewGorm(gdb), insight)
	r := server.SetupRouter(cfg, gdb, mgr)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
