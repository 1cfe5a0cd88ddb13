package model

// OutcomeStatus 单题最终状态
type OutcomeStatus string

const (
	StatusAnswered OutcomeStatus = "answered"
	StatusFailed   OutcomeStatus = "failed"
	StatusSkipped  OutcomeStatus = "skipped"
)

// OverallStatus 整卷求解状态
type OverallStatus string

const (
	OverallSuccess OverallStatus = "success"
	OverallPartial OverallStatus = "partial"
	OverallFailure OverallStatus = "failure"
)

// QuestionOutcome 单题结果：每道被提取的题目都有且仅有一条
type QuestionOutcome struct {
	QuestionIndex int           `json:"questionIndex"`
	Prompt        string        `json:"prompt"`
	Status        OutcomeStatus `json:"status"`
	Answer        *Answer       `json:"answer,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// SolveResult 单份测验的聚合结果
// swagger:model SolveResult
type SolveResult struct {
	URL                string            `json:"url"`
	Outcomes           []QuestionOutcome `json:"outcomes"`
	Overall            OverallStatus     `json:"overall"`
	SubmissionComplete bool              `json:"submissionConfirmed"`
	Error              string            `json:"error,omitempty"`
	// NextURL 提交确认页暴露的下一份测验链接（测验链模式）
	NextURL string `json:"nextUrl,omitempty"`
}

// ChainResult 一次 /solve 请求的完整报告，可能包含多份链式测验
// swagger:model ChainResult
type ChainResult struct {
	Results      []SolveResult `json:"results"`
	TotalQuizzes int           `json:"totalQuizzes"`
	DurationMS   int64         `json:"durationMs"`
	Overall      OverallStatus `json:"overall"`
}

// SolveRequest /solve 请求体
// swagger:model SolveRequest
type SolveRequest struct {
	Email  string `json:"email" binding:"required"`
	Secret string `json:"secret" binding:"required"`
	URL    string `json:"url" binding:"required"`
}
