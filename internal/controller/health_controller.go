package controller

import (
	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/service"
	"quiz_solver_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type HealthController struct {
	Sessions    *service.SessionService
	Credentials config.CredentialsConfig
	AI          config.AIConfig
}

func NewHealthController(sessions *service.SessionService, creds config.CredentialsConfig, ai config.AIConfig) *HealthController {
	return &HealthController{Sessions: sessions, Credentials: creds, AI: ai}
}

// @Summary 健康检查
// @Description 检查服务状态与关键依赖配置
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	credentials := "configured"
	if _, _, err := c.Credentials.Resolve(); err != nil {
		credentials = "missing"
	}

	resolver := "configured"
	if c.AI.BaseURL == "" {
		resolver = "missing"
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"credentials":     credentials,
			"resolver":        resolver,
			"active_sessions": c.Sessions.Active(),
		},
	})
}

// @Summary 服务信息
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router / [get]
func (c *HealthController) Root(ctx *gin.Context) {
	util.Success(ctx, gin.H{
		"service": "quiz-solver",
		"docs":    "/swagger/index.html",
	})
}
