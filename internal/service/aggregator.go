package service

import (
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/pkg/monitoring"
)

// Aggregate 组装单份测验的最终结果，纯函数
// 不变式：每道被提取的题目在结果里有且仅有一条 outcome
func Aggregate(url string, questions []model.Question, answers map[int]model.Answer, report *SubmissionReport) model.SolveResult {
	result := model.SolveResult{
		URL:      url,
		Outcomes: make([]model.QuestionOutcome, 0, len(questions)),
	}

	answered := 0
	for _, q := range questions {
		outcome := model.QuestionOutcome{
			QuestionIndex: q.Index,
			Prompt:        q.Prompt,
			Status:        model.StatusSkipped,
		}

		if report != nil {
			if st, ok := report.Statuses[q.Index]; ok {
				outcome.Status = st
			}
			if err, ok := report.Errors[q.Index]; ok {
				outcome.Error = err.Error()
			}
		}

		if outcome.Status == model.StatusAnswered {
			a := answers[q.Index]
			outcome.Answer = &a
			answered++
		}

		monitoring.QuestionOutcomeCounter.WithLabelValues(string(outcome.Status)).Inc()
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if report != nil {
		result.SubmissionComplete = report.Confirmed
		result.NextURL = report.NextURL
	}

	switch {
	case report != nil && report.Confirmed && answered == len(questions):
		result.Overall = model.OverallSuccess
	case (report == nil || !report.Confirmed) || answered == 0:
		result.Overall = model.OverallFailure
	default:
		result.Overall = model.OverallPartial
	}

	return result
}

// MarkResolutionFailures 把解析阶段的单题失败并入提交报告，
// 让最终 outcome 能报告 failed 的原因而不是笼统的 skipped
func MarkResolutionFailures(report *SubmissionReport, failures map[int]error) *SubmissionReport {
	if report == nil {
		report = &SubmissionReport{
			Statuses: make(map[int]model.OutcomeStatus),
			Errors:   make(map[int]error),
		}
	}
	for idx, err := range failures {
		// 提交阶段已有明确状态的不覆盖
		if st, ok := report.Statuses[idx]; !ok || st == model.StatusSkipped {
			report.Statuses[idx] = model.StatusFailed
			report.Errors[idx] = err
		}
	}
	return report
}
