package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/browser"
	"quiz_solver_backend/pkg/logger"
	"quiz_solver_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	loginAttempts = 3 // 首次 + 最多两次重试
	loginBackoff  = 2 * time.Second
)

// SessionService 浏览器会话管理器
// 每个求解请求独占一个浏览器进程；并发会话数由信号量封顶
type SessionService struct {
	launcher    browser.Launcher
	credentials config.CredentialsConfig
	cfg         config.BrowserConfig

	slots   *semaphore.Weighted
	backoff time.Duration

	mu      sync.Mutex
	closers map[string]func() // session id -> 浏览器回收函数
}

func NewSessionService(launcher browser.Launcher, creds config.CredentialsConfig, cfg config.BrowserConfig) *SessionService {
	return &SessionService{
		launcher:    launcher,
		credentials: creds,
		cfg:         cfg,
		slots:       semaphore.NewWeighted(cfg.MaxSessions),
		backoff:     loginBackoff,
		closers:     make(map[string]func()),
	}
}

// Acquire 启动独立浏览器，导航到目标地址并完成登录
// 失败时自行回收资源；成功后必须由调用方 Release
func (s *SessionService) Acquire(ctx context.Context, targetURL string) (*model.Session, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	page, closeBrowser, err := s.launcher.Launch(ctx)
	if err != nil {
		s.slots.Release(1)
		return nil, fmt.Errorf("%w: %v", util.ErrNavigation, err)
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		Page:      page,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.cfg.SessionLifetime),
	}

	s.mu.Lock()
	s.closers[sess.ID] = closeBrowser
	s.mu.Unlock()
	monitoring.ActiveSessions.Inc()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	err = page.Navigate(navCtx, targetURL)
	cancel()
	if err != nil {
		s.Release(sess)
		return nil, fmt.Errorf("%w: %s: %v", util.ErrNavigation, targetURL, err)
	}

	if err := s.login(ctx, sess); err != nil {
		s.Release(sess)
		return nil, err
	}

	sess.Authenticated = true
	logger.Log.Info("browser session acquired",
		zap.String("session_id", sess.ID),
		zap.String("url", targetURL))
	return sess, nil
}

// login 页面带登录表单时填入凭据并等待已认证状态，最多重试两次
func (s *SessionService) login(ctx context.Context, sess *model.Session) error {
	needLogin, err := sess.Page.Exists(ctx, s.cfg.LoginSelector)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrNavigation, err)
	}
	if !needLogin {
		// 页面没有登录表单：目标本身就是已认证可见的测验页
		return nil
	}

	secret, email, err := s.credentials.Resolve()
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrConfiguration, err)
	}

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.submitLogin(ctx, sess.Page, email, secret)
		if lastErr == nil {
			return nil
		}
		logger.Log.Warn("login attempt failed",
			zap.String("session_id", sess.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	return fmt.Errorf("%w: %v", util.ErrAuthentication, lastErr)
}

func (s *SessionService) submitLogin(ctx context.Context, page browser.Page, email, secret string) error {
	if ok, err := page.Exists(ctx, "input[type=email], input[name=email]"); err == nil && ok {
		if err := page.SetValue(ctx, "input[type=email], input[name=email]", email); err != nil {
			return err
		}
	}
	if err := page.SetValue(ctx, "input[type=password], input[name=secret]", secret); err != nil {
		return err
	}
	if err := page.Click(ctx, "form button[type=submit], form input[type=submit]"); err != nil {
		return err
	}
	return page.WaitVisible(ctx, s.cfg.LoggedInSignal, s.cfg.NavTimeout)
}

// Release 关闭浏览器并释放并发额度，可安全重复调用
func (s *SessionService) Release(sess *model.Session) {
	if sess == nil {
		return
	}

	s.mu.Lock()
	closeBrowser, ok := s.closers[sess.ID]
	delete(s.closers, sess.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	closeBrowser()
	s.slots.Release(1)
	monitoring.ActiveSessions.Dec()
	logger.Log.Info("browser session released", zap.String("session_id", sess.ID))
}

// Active 当前持有的会话数，供健康检查展示
func (s *SessionService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closers)
}

// Shutdown 进程退出前回收所有残留浏览器进程
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	remaining := s.closers
	s.closers = make(map[string]func())
	s.mu.Unlock()

	for id, closeBrowser := range remaining {
		closeBrowser()
		s.slots.Release(1)
		monitoring.ActiveSessions.Dec()
		logger.Log.Info("browser session closed on shutdown", zap.String("session_id", id))
	}
}
