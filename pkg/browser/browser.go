package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Page 浏览器页面能力接口：导航、查询、写值、点击、等待
// 服务层只依赖该接口，chromedp 仅在本包出现
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Evaluate(ctx context.Context, expression string, out interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Launcher 启动一个独立的浏览器进程并返回其页面
// 返回的 close 必须在会话结束时调用，负责终止浏览器进程
type Launcher interface {
	Launch(ctx context.Context) (Page, func(), error)
}

// Options Chrome 启动参数
type Options struct {
	ExecPath      string        // 为空时由 chromedp 自动查找
	Headless      bool
	NoSandbox     bool
	LaunchTimeout time.Duration // 浏览器进程启动超时
	OpTimeout     time.Duration // 单次页面操作的默认超时
}

// ChromeLauncher 基于 chromedp 的 Launcher 实现
// 每次 Launch 创建独立的 ExecAllocator，即每个会话独占一个 Chrome 进程，
// 不同会话之间不共享 cookie 和页面状态
type ChromeLauncher struct {
	opts Options
}

func NewChromeLauncher(opts Options) *ChromeLauncher {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 30 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	return &ChromeLauncher{opts: opts}
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Page, func(), error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if !l.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if l.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	// 浏览器生存期不挂在请求 ctx 上：释放由会话管理器显式保证，
	// 请求取消时页面操作会中断，但进程回收走统一的 close 路径
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)

	closeAll := func() {
		cancelPage()
		cancelAlloc()
	}

	// 空跑一次以立刻启动进程，启动失败在这里暴露而不是拖到首次导航
	startCtx, cancel := context.WithTimeout(pageCtx, l.opts.LaunchTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	return &chromePage{ctx: pageCtx, opTimeout: l.opts.OpTimeout}, closeAll, nil
}

type chromePage struct {
	ctx       context.Context
	opTimeout time.Duration
}

// run 在页面自身的 ctx 上执行动作，同时监听调用方 ctx 的取消
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tctx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.opTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.opTimeout
	}
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.opTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) SetValue(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.opTimeout, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var s string
	err := p.run(ctx, p.opTimeout, chromedp.Text(selector, &s, chromedp.ByQuery))
	return s, err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	err := p.run(ctx, p.opTimeout, chromedp.Evaluate(expr, &found))
	return found, err
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return p.run(ctx, p.opTimeout, chromedp.Evaluate(expression, out))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.opTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}
