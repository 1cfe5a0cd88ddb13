package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSolverConfig() config.SolverConfig {
	return config.SolverConfig{
		ConfirmTimeout:  time.Second,
		SubmitSelector:  "button[type=submit]",
		ConfirmSelector: ".confirmation",
	}
}

// submissionPage 区分写控件脚本和取下一链接脚本的页面替身
func submissionPage(fillOK func(expr string) (bool, error), nextURL string) *fakePage {
	return &fakePage{
		evaluateFn: func(expr string, out interface{}) error {
			switch v := out.(type) {
			case *bool:
				ok, err := fillOK(expr)
				*v = ok
				return err
			case *string:
				*v = nextURL
				return nil
			}
			return errors.New("unexpected evaluate output type")
		},
	}
}

func TestSubmitHappyPath(t *testing.T) {
	page := submissionPage(func(string) (bool, error) { return true, nil }, "https://quiz.example.com/2")
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.SingleChoice, Options: []string{"a", "b"}, Locator: `[data-qs-idx="0"]`},
		{Index: 1, Kind: model.FreeText, Locator: `[data-qs-idx="1"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.SingleChoice, SelectedIndex: 1},
		1: {QuestionIndex: 1, Kind: model.FreeText, Text: "42"},
	}

	ss := NewSubmissionService(testSolverConfig())
	report, err := ss.Submit(context.Background(), sess, questions, answers)
	require.NoError(t, err)

	assert.True(t, report.Confirmed)
	assert.Equal(t, "https://quiz.example.com/2", report.NextURL)
	assert.Equal(t, model.StatusAnswered, report.Statuses[0])
	assert.Equal(t, model.StatusAnswered, report.Statuses[1])
	require.Len(t, page.clicks, 1)
	assert.Equal(t, "button[type=submit]", page.clicks[0])
}

func TestSubmitSkipsUnansweredQuestions(t *testing.T) {
	filled := 0
	page := submissionPage(func(string) (bool, error) { filled++; return true, nil }, "")
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.SingleChoice, Options: []string{"a", "b"}, Locator: `[data-qs-idx="0"]`},
		{Index: 1, Kind: model.FreeText, Locator: `[data-qs-idx="1"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.SingleChoice, SelectedIndex: 0},
	}

	ss := NewSubmissionService(testSolverConfig())
	report, err := ss.Submit(context.Background(), sess, questions, answers)
	require.NoError(t, err)

	// 缺答案的题跳过而不是失败，提交照常进行
	assert.Equal(t, model.StatusAnswered, report.Statuses[0])
	assert.Equal(t, model.StatusSkipped, report.Statuses[1])
	assert.Equal(t, 1, filled)
	assert.True(t, report.Confirmed)
}

func TestSubmitControlFailureIsPerQuestion(t *testing.T) {
	page := submissionPage(func(expr string) (bool, error) {
		if strings.Contains(expr, `[data-qs-idx="0"]`) {
			return false, nil // 控件不存在
		}
		return true, nil
	}, "")
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.SingleChoice, Options: []string{"a", "b"}, Locator: `[data-qs-idx="0"]`},
		{Index: 1, Kind: model.FreeText, Locator: `[data-qs-idx="1"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.SingleChoice, SelectedIndex: 0},
		1: {QuestionIndex: 1, Kind: model.FreeText, Text: "x"},
	}

	ss := NewSubmissionService(testSolverConfig())
	report, err := ss.Submit(context.Background(), sess, questions, answers)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, report.Statuses[0])
	assert.Error(t, report.Errors[0])
	assert.Equal(t, model.StatusAnswered, report.Statuses[1])
	assert.True(t, report.Confirmed)
}

func TestSubmitClickFailure(t *testing.T) {
	page := submissionPage(func(string) (bool, error) { return true, nil }, "")
	page.clickFn = func(sel string) error { return errors.New("button disabled") }
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.FreeText, Locator: `[data-qs-idx="0"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.FreeText, Text: "x"},
	}

	ss := NewSubmissionService(testSolverConfig())
	report, err := ss.Submit(context.Background(), sess, questions, answers)

	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrSubmission)
	// 失败报告里保留已写入的单题状态
	require.NotNil(t, report)
	assert.Equal(t, model.StatusAnswered, report.Statuses[0])
	assert.False(t, report.Confirmed)
}

func TestSubmitConfirmTimeout(t *testing.T) {
	page := submissionPage(func(string) (bool, error) { return true, nil }, "")
	page.waitFn = func(sel string) error { return context.DeadlineExceeded }
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.FreeText, Locator: `[data-qs-idx="0"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.FreeText, Text: "x"},
	}

	ss := NewSubmissionService(testSolverConfig())
	report, err := ss.Submit(context.Background(), sess, questions, answers)

	// 确认信号超时：报告 ErrSubmission，不自动重试
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrSubmission)
	assert.False(t, report.Confirmed)
	assert.Empty(t, report.NextURL)
}

func TestSubmitOrderingAnswer(t *testing.T) {
	var lastScript string
	page := &fakePage{
		evaluateFn: func(expr string, out interface{}) error {
			switch v := out.(type) {
			case *bool:
				lastScript = expr
				*v = true
			case *string:
				*v = ""
			}
			return nil
		},
	}
	sess := &model.Session{ID: "s", Page: page}

	questions := []model.Question{
		{Index: 0, Kind: model.Ordering, Options: []string{"x", "y", "z"}, Locator: `[data-qs-idx="0"]`},
	}
	answers := map[int]model.Answer{
		0: {QuestionIndex: 0, Kind: model.Ordering, SelectedIndices: []int{2, 0, 1}},
	}

	ss := NewSubmissionService(testSolverConfig())
	_, err := ss.Submit(context.Background(), sess, questions, answers)
	require.NoError(t, err)
	assert.Contains(t, lastScript, "[2,0,1]")
}

// 下拉框形式的排序题：页面上的 select 可能带占位项，原始下标会整体偏移，
// 脚本必须按选项文本匹配而不是直接写 selectedIndex
func TestFillOrderingScriptMatchesSelectsByText(t *testing.T) {
	script := fillOrderingScript(`[data-qs-idx="0"]`, []int{2, 0, 1}, []string{"x", "y", "z"})

	assert.Contains(t, script, `["x","y","z"]`)
	assert.Contains(t, script, "texts[order[p]]")
	assert.Contains(t, script, "options[i].text.trim() === want")
	assert.NotContains(t, script, "selectedIndex = order[p]")
}
