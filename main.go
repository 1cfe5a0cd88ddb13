// @title Quiz Solver API
// @version 1.0
// @description 自动化测验求解服务：打开测验页、登录、提取题目、模型作答并回填提交。

// @contact.name API支持

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8000
// @BasePath /api

package main

import (
	"flag"
	"log"

	"quiz_solver_backend/internal/app"
	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/pkg/configwatcher"
	"quiz_solver_backend/pkg/logger"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	watch := flag.Bool("watch-config", false, "监听配置文件变更并热更新求解参数")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if *watch {
		go configwatcher.WatchConfig(*configDir+"/config.yaml", cfg, func(newCfg interface{}) {
			if c, ok := newCfg.(*config.Config); ok {
				application.ReloadSolverConfig(c)
			}
		})
	}

	application.Run()
}
