package model

import (
	"time"

	"quiz_solver_backend/pkg/browser"
)

// Session 一次求解请求独占的浏览器上下文
// 会话绝不跨请求复用，由请求方负责在所有退出路径上释放
type Session struct {
	ID            string
	Authenticated bool
	Page          browser.Page
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired 会话是否已超过生存期限
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
