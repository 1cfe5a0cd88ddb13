package controller

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/service"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/logger"
	"quiz_solver_backend/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SolveController struct {
	Solver      *service.SolverService
	Credentials config.CredentialsConfig
}

func NewSolveController(solver *service.SolverService, creds config.CredentialsConfig) *SolveController {
	return &SolveController{Solver: solver, Credentials: creds}
}

// @Summary 求解测验
// @Description 打开目标测验页并登录，提取题目交给模型作答后回填提交，返回逐题结果
// @Tags 求解
// @Accept json
// @Produce json
// @Param body body model.SolveRequest true "测验地址与调用方凭据"
// @Success 200 {object} util.Response{data=model.ChainResult}
// @Failure 400 {object} util.Response
// @Failure 403 {object} util.Response
// @Failure 422 {object} util.Response
// @Failure 502 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /api/solve [post]
func (c *SolveController) Solve(ctx *gin.Context) {
	var req model.SolveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if !strings.Contains(req.Email, "@") {
		util.BadRequest(ctx, "invalid email")
		return
	}
	if err := validateQuizURL(req.URL); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	// 调用方凭据必须与服务端配置一致，比较走常量时间
	secret, email, err := c.Credentials.Resolve()
	if err != nil {
		util.Error(ctx, http.StatusInternalServerError, util.ErrConfiguration.Error())
		return
	}
	if !security.SecretEqual(req.Secret, secret) || !security.SecretEqual(req.Email, email) {
		util.Forbidden(ctx, "forbidden: invalid secret")
		return
	}

	result, err := c.Solver.SolveChain(ctx.Request.Context(), req.URL)
	if err != nil {
		c.respondSolveError(ctx, req.URL, err)
		return
	}

	util.Success(ctx, result)
}

// respondSolveError 致命阶段错误到 HTTP 状态码的映射
// 凭据等敏感值绝不进入响应体
func (c *SolveController) respondSolveError(ctx *gin.Context, quizURL string, err error) {
	logger.Log.Error("solve request failed",
		zap.String("url", quizURL),
		zap.Error(err))

	switch {
	case errors.Is(err, util.ErrConfiguration):
		util.Error(ctx, http.StatusInternalServerError, util.ErrConfiguration.Error())
	case errors.Is(err, util.ErrAuthentication):
		util.Error(ctx, http.StatusBadGateway, err.Error())
	case errors.Is(err, util.ErrNavigation):
		util.Error(ctx, http.StatusBadGateway, err.Error())
	case errors.Is(err, util.ErrExtraction):
		util.Error(ctx, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, util.ErrSessionExpired):
		util.Error(ctx, http.StatusBadGateway, err.Error())
	case errors.Is(err, util.ErrResolverUnavailable):
		util.Error(ctx, http.StatusServiceUnavailable, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

func validateQuizURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url host is empty")
	}
	return nil
}
