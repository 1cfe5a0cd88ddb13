package service

import (
	"context"
	"sync"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/logger"
	"quiz_solver_backend/pkg/monitoring"
	"quiz_solver_backend/pkg/tracing"

	"go.uber.org/zap"
)

// SolverService 求解编排器：会话 → 提取 → 解析 → 提交 → 聚合
// 阶段性致命错误中止请求；单题失败只影响对应 outcome
type SolverService struct {
	sessions  *SessionService
	extractor *ExtractorService
	resolver  *ResolverService
	submitter *SubmissionService
	storage   *StorageService

	mu  sync.RWMutex
	cfg config.SolverConfig
}

func NewSolverService(
	sessions *SessionService,
	extractor *ExtractorService,
	resolver *ResolverService,
	submitter *SubmissionService,
	storage *StorageService,
	cfg config.SolverConfig,
) *SolverService {
	return &SolverService{
		sessions:  sessions,
		extractor: extractor,
		resolver:  resolver,
		submitter: submitter,
		storage:   storage,
		cfg:       cfg,
	}
}

// UpdateConfig 配置热加载入口，只影响后续请求
func (s *SolverService) UpdateConfig(cfg config.SolverConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *SolverService) config() config.SolverConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SolveChain 求解一条测验链：从目标地址开始，提交确认页暴露下一份
// 测验时继续，直到链结束、超出上限或时间预算耗尽
// 无论哪个阶段失败，会话都在本函数退出前释放
func (s *SolverService) SolveChain(ctx context.Context, targetURL string) (*model.ChainResult, error) {
	start := time.Now()
	cfg := s.config()

	ctx, cancel := context.WithTimeout(ctx, cfg.QuizTimeout)
	defer cancel()

	acquireCtx, span := tracing.Tracer.Start(ctx, "solve.acquire")
	sess, err := s.sessions.Acquire(acquireCtx, targetURL)
	span.End()
	if err != nil {
		return nil, err
	}
	defer s.sessions.Release(sess)

	chain := &model.ChainResult{}
	currentURL := targetURL

	for quiz := 1; quiz <= cfg.MaxQuizzes; quiz++ {
		// 会话对应真实浏览器进程，超过生存期限后不再继续使用
		if sess.Expired() {
			if quiz == 1 {
				return nil, util.ErrSessionExpired
			}
			logger.Log.Warn("quiz chain stopped: session lifetime exceeded",
				zap.String("session_id", sess.ID),
				zap.Int("quiz", quiz))
			break
		}

		result, fatal := s.solveOne(ctx, sess, currentURL)

		if fatal != nil {
			if quiz == 1 {
				// 第一份测验的致命错误即整个请求的致命错误
				s.captureFailure(sess)
				return nil, fatal
			}
			// 链中后续测验失败：保留已有结果，停止前进
			logger.Log.Warn("quiz chain stopped on fatal stage error",
				zap.String("session_id", sess.ID),
				zap.Int("quiz", quiz),
				zap.Error(fatal))
			break
		}

		chain.Results = append(chain.Results, *result)
		chain.TotalQuizzes = quiz
		monitoring.SolveCounter.WithLabelValues(string(result.Overall)).Inc()

		if result.NextURL == "" || !result.SubmissionComplete {
			break
		}
		if ctx.Err() != nil {
			break
		}

		navCtx, navSpan := tracing.Tracer.Start(ctx, "solve.next_navigate")
		err = sess.Page.Navigate(navCtx, result.NextURL)
		navSpan.End()
		if err != nil {
			logger.Log.Warn("failed to navigate to next quiz",
				zap.String("session_id", sess.ID),
				zap.String("next_url", result.NextURL),
				zap.Error(err))
			break
		}
		currentURL = result.NextURL
	}

	chain.DurationMS = time.Since(start).Milliseconds()
	chain.Overall = overallOf(chain.Results)
	monitoring.SolveDuration.Observe(time.Since(start).Seconds())
	return chain, nil
}

// solveOne 处理当前页面上的一份测验
// 返回 (结果, 致命错误)；提交未确认不算致命——部分结果仍然成立
func (s *SolverService) solveOne(ctx context.Context, sess *model.Session, url string) (*model.SolveResult, error) {
	extractCtx, span := tracing.Tracer.Start(ctx, "solve.extract")
	questions, err := s.extractor.Extract(extractCtx, sess)
	span.End()
	if err != nil {
		return nil, err
	}

	resolveCtx, span := tracing.Tracer.Start(ctx, "solve.resolve")
	answers, failures, err := s.resolver.Resolve(resolveCtx, questions)
	span.End()
	if err != nil {
		return nil, err
	}

	submitCtx, span := tracing.Tracer.Start(ctx, "solve.submit")
	report, submitErr := s.submitter.Submit(submitCtx, sess, questions, answers)
	span.End()

	report = MarkResolutionFailures(report, failures)
	result := Aggregate(url, questions, answers, report)

	if submitErr != nil {
		// 提交阶段失败：原样上报，带着已收集的单题结果，不自动重试
		result.Error = submitErr.Error()
		s.captureFailure(sess)
		logger.Log.Error("submission failed",
			zap.String("session_id", sess.ID),
			zap.String("url", url),
			zap.Error(submitErr))
	}
	return &result, nil
}

// captureFailure 尽力保存失败现场截图，绝不影响主流程
func (s *SolverService) captureFailure(sess *model.Session) {
	if !s.config().CaptureScreenshots || s.storage == nil || sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := sess.Page.Screenshot(ctx)
	if err != nil {
		logger.Log.Debug("failure screenshot unavailable", zap.Error(err))
		return
	}
	if url := s.storage.SaveScreenshot(ctx, sess.ID, data); url != "" {
		logger.Log.Info("failure screenshot stored",
			zap.String("session_id", sess.ID),
			zap.String("artifact", url))
	}
}

func overallOf(results []model.SolveResult) model.OverallStatus {
	if len(results) == 0 {
		return model.OverallFailure
	}
	allSuccess := true
	anyProgress := false
	for _, r := range results {
		if r.Overall != model.OverallSuccess {
			allSuccess = false
		}
		if r.Overall != model.OverallFailure {
			anyProgress = true
		}
	}
	switch {
	case allSuccess:
		return model.OverallSuccess
	case anyProgress:
		return model.OverallPartial
	default:
		return model.OverallFailure
	}
}
