package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(client CompletionClient) *ResolverService {
	return NewResolverService(client,
		config.AIConfig{
			RequestTimeout: 5 * time.Second,
			MaxConcurrent:  3,
			RatePerSecond:  1000, // 测试里不做限速
		},
		config.SolverConfig{BatchSize: 5},
	)
}

func TestResolveSingleChoiceLetter(t *testing.T) {
	client := &fakeClient{responses: []string{"B"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "Capital of France?", Kind: model.SingleChoice, Options: []string{"Berlin", "Paris", "Rome"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Contains(t, answers, 0)
	assert.Equal(t, 1, answers[0].SelectedIndex)
	assert.Equal(t, model.SourceModel, answers[0].Source)
}

func TestResolveSingleChoiceVerbatimText(t *testing.T) {
	client := &fakeClient{responses: []string{"paris"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "Capital of France?", Kind: model.SingleChoice, Options: []string{"Berlin", "Paris", "Rome"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 1, answers[0].SelectedIndex)
}

func TestResolveBatchedChoices(t *testing.T) {
	client := &fakeClient{responses: []string{"0: A\n1: A, C"}}
	rs := newTestResolver(client)

	questions := []model.Question{
		{Index: 0, Prompt: "q0", Kind: model.SingleChoice, Options: []string{"a", "b"}},
		{Index: 1, Prompt: "q1", Kind: model.MultipleChoice, Options: []string{"x", "y", "z"}},
	}
	answers, failures, err := rs.Resolve(context.Background(), questions)

	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, answers, 2)
	assert.Equal(t, 0, answers[0].SelectedIndex)
	assert.Equal(t, []int{0, 2}, answers[1].SelectedIndices)

	// 两道选择题合并成一次补全
	assert.Equal(t, 1, client.calls)
	assert.Contains(t, client.prompts[0], "Question 0")
	assert.Contains(t, client.prompts[0], "Question 1")
}

func TestResolveFreeTextNotBatched(t *testing.T) {
	client := &fakeClient{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "essay") {
			return "The mitochondria", nil
		}
		return "0: A\n1: A", nil
	}}
	rs := newTestResolver(client)

	questions := []model.Question{
		{Index: 0, Prompt: "q0", Kind: model.SingleChoice, Options: []string{"a", "b"}},
		{Index: 1, Prompt: "q1", Kind: model.SingleChoice, Options: []string{"a", "b"}},
		{Index: 2, Prompt: "essay", Kind: model.FreeText},
	}
	answers, failures, err := rs.Resolve(context.Background(), questions)

	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, answers, 3)

	// free_text 独立成批，两次补全调用
	assert.Equal(t, 2, client.calls)

	var freeText model.Answer
	for _, a := range answers {
		if a.Kind == model.FreeText {
			freeText = a
		}
	}
	assert.Equal(t, "The mitochondria", freeText.Text)
}

func TestResolveOrderingPermutation(t *testing.T) {
	client := &fakeClient{responses: []string{"C, A, B"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "sort", Kind: model.Ordering, Options: []string{"first", "second", "third"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, []int{2, 0, 1}, answers[0].SelectedIndices)
}

func TestResolveOrderingIncompleteIsFailure(t *testing.T) {
	// 排列缺一项，严格重试也缺：单题失败，不影响整体
	client := &fakeClient{responses: []string{"C, A", "C, A"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "sort", Kind: model.Ordering, Options: []string{"first", "second", "third"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, answers)
	require.Contains(t, failures, 0)
	assert.Contains(t, failures[0].Error(), "unparseable")
}

func TestResolveUnknownOptionNoGuessing(t *testing.T) {
	client := &fakeClient{responses: []string{"Madrid", "Madrid"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "Capital of France?", Kind: model.SingleChoice, Options: []string{"Berlin", "Paris"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, answers)
	require.Contains(t, failures, 0)
	// 报出不存在的选项绝不猜测映射
	assert.Equal(t, 2, client.calls)
}

func TestResolveStrictRetryFallback(t *testing.T) {
	client := &fakeClient{responses: []string{"I believe the correct answer here is the second one.", "B"}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "q", Kind: model.SingleChoice, Options: []string{"a", "b"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Contains(t, answers, 0)
	assert.Equal(t, 1, answers[0].SelectedIndex)
	assert.Equal(t, model.SourceFallback, answers[0].Source)
	assert.Equal(t, 2, client.calls)
}

func TestResolveEndpointUnreachableIsFatal(t *testing.T) {
	unavailable := fmt.Errorf("%w: connection refused", util.ErrResolverUnavailable)
	client := &fakeClient{errs: []error{unavailable}}
	rs := newTestResolver(client)

	q := model.Question{Index: 0, Prompt: "q", Kind: model.SingleChoice, Options: []string{"a", "b"}}
	answers, failures, err := rs.Resolve(context.Background(), []model.Question{q})

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrResolverUnavailable))
	assert.Nil(t, answers)
	assert.Nil(t, failures)
}

func TestResolveModelErrorFailsWholeBatch(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("model overloaded")}}
	rs := newTestResolver(client)

	questions := []model.Question{
		{Index: 0, Prompt: "q0", Kind: model.SingleChoice, Options: []string{"a", "b"}},
		{Index: 1, Prompt: "q1", Kind: model.SingleChoice, Options: []string{"a", "b"}},
	}
	answers, failures, err := rs.Resolve(context.Background(), questions)

	require.NoError(t, err)
	assert.Empty(t, answers)
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0].Error(), "completion failed")
}

func TestResolveCancelledContextLeavesQuestionsAbsent(t *testing.T) {
	client := &fakeClient{responses: []string{"A"}}
	rs := newTestResolver(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := model.Question{Index: 0, Prompt: "q", Kind: model.SingleChoice, Options: []string{"a", "b"}}
	answers, failures, err := rs.Resolve(ctx, []model.Question{q})

	// 预算耗尽不是致命错误：题目留空，上层标记 skipped
	require.NoError(t, err)
	assert.Empty(t, answers)
	assert.Empty(t, failures)
}

func TestPartitionRespectsBatchSize(t *testing.T) {
	rs := NewResolverService(nil, config.AIConfig{RatePerSecond: 1}, config.SolverConfig{BatchSize: 2})

	questions := []model.Question{
		{Index: 0, Kind: model.SingleChoice},
		{Index: 1, Kind: model.MultipleChoice},
		{Index: 2, Kind: model.FreeText},
		{Index: 3, Kind: model.SingleChoice},
		{Index: 4, Kind: model.Ordering},
		{Index: 5, Kind: model.SingleChoice},
	}
	batches := rs.partition(questions)

	// 选择题 {0,1} {3,5} 各成一批，free_text 和排序题单独成批
	require.Len(t, batches, 4)
	var sizes []int
	for _, b := range batches {
		sizes = append(sizes, len(b))
		if len(b) == 1 {
			assert.Contains(t, []model.QuestionKind{model.FreeText, model.Ordering}, b[0].Kind)
		}
	}
	assert.ElementsMatch(t, []int{2, 1, 1, 2}, sizes)
}

func TestIndexedLines(t *testing.T) {
	raw := "0: A\nQuestion 1: B, C\n 2) Paris\nnoise line\n0: duplicate ignored"
	lines := indexedLines(raw)

	assert.Equal(t, "A", lines[0])
	assert.Equal(t, "B, C", lines[1])
	assert.Equal(t, "Paris", lines[2])
}

func TestFreeTextAnswerTrimsQuotes(t *testing.T) {
	q := model.Question{Index: 0, Prompt: "q", Kind: model.FreeText}
	a, err := parseAnswer(q, `"photosynthesis"`, model.SourceModel)
	require.NoError(t, err)
	assert.Equal(t, "photosynthesis", a.Text)
}

func TestFreeTextPromptCarriesPageContext(t *testing.T) {
	rs := newTestResolver(nil)
	q := model.Question{Index: 0, Prompt: "essay", Kind: model.FreeText, Context: strings.Repeat("background ", 10)}
	prompt := rs.buildPrompt([]model.Question{q})
	assert.Contains(t, prompt, "Page context")
	assert.Contains(t, prompt, "background")
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "短串原样返回", in: "abc", n: 5, want: "abc"},
		{name: "ASCII 截断", in: "abcdef", n: 3, want: "abc…"},
		{name: "多字节字符不被拆碎", in: "巴黎是法国的首都", n: 4, want: "巴…"},
		{name: "恰在字符边界", in: "巴黎是法国的首都", n: 6, want: "巴黎…"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
