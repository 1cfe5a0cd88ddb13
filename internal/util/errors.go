package util

import "errors"

// 求解流水线错误分级：
// 致命错误中止整个请求；单题失败只降级为 partial，绝不中止
var (
	// ErrConfiguration 凭据缺失，请求不会开始
	ErrConfiguration = errors.New("service credentials not configured")

	// ErrAuthentication 登录重试耗尽后仍未到达已认证页面
	ErrAuthentication = errors.New("login failed: authenticated page state not reached")

	// ErrNavigation 目标地址不可达或导航超时
	ErrNavigation = errors.New("navigation failed: target unreachable or timed out")

	// ErrExtraction 页面上找不到任何题目容器，不是测验页
	ErrExtraction = errors.New("extraction failed: no question containers found")

	// ErrResolverUnavailable 补全端点不可达，无法产生任何答案
	ErrResolverUnavailable = errors.New("completion endpoint unreachable")

	// ErrSubmission 提交后确认信号未在限时内出现；不自动重试，重复提交风险交由调用方
	ErrSubmission = errors.New("submission not confirmed within deadline")

	// ErrSessionExpired 会话超出生存期限，第一份测验都没能开始
	ErrSessionExpired = errors.New("browser session expired")
)
