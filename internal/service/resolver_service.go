package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const answerSystemPrompt = "You are an expert quiz solver. Answer precisely and follow the requested output format exactly. Do not explain your answers."

// ResolverService 把题目映射为补全请求，并把模型原文解析回结构化答案
// 单题失败只记录，绝不让整次解析失败；端点不可达才是致命错误
type ResolverService struct {
	client  CompletionClient
	limiter *rate.Limiter
	aiCfg   config.AIConfig
	cfg     config.SolverConfig
}

func NewResolverService(client CompletionClient, aiCfg config.AIConfig, cfg config.SolverConfig) *ResolverService {
	return &ResolverService{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(aiCfg.RatePerSecond), 1),
		aiCfg:   aiCfg,
		cfg:     cfg,
	}
}

// Resolve 解析全部题目
// 返回: 题目下标 -> 答案；题目下标 -> 单题失败原因；致命错误
// 批次乱序完成没有关系，结果始终按题目下标重新归位
func (rs *ResolverService) Resolve(ctx context.Context, questions []model.Question) (map[int]model.Answer, map[int]error, error) {
	answers := make(map[int]model.Answer)
	failures := make(map[int]error)
	var mu sync.Mutex

	var fatal error
	var fatalOnce sync.Once

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rs.aiCfg.MaxConcurrent)

	record := func(batchAnswers map[int]model.Answer, batchFailures map[int]error) {
		mu.Lock()
		defer mu.Unlock()
		for i, a := range batchAnswers {
			answers[i] = a
		}
		for i, err := range batchFailures {
			failures[i] = err
		}
	}

	abort := func(err error) error {
		fatalOnce.Do(func() { fatal = err })
		return err // errgroup 用它取消其余批次
	}

	for _, batch := range rs.partition(questions) {
		batch := batch
		g.Go(func() error {
			ba, bf, err := rs.resolveBatch(gctx, batch)
			if err != nil {
				if errors.Is(err, util.ErrResolverUnavailable) {
					return abort(err)
				}
				// 取消/超预算：这些题留空，上层标记 skipped
				return nil
			}
			record(ba, bf)
			return nil
		})
	}

	g.Wait()
	if fatal != nil {
		return nil, nil, fatal
	}
	return answers, failures, nil
}

// partition 切分补全批次：选择题按 BatchSize 分组，
// free_text 与排序题单独成批；一道题的选项绝不跨批
func (rs *ResolverService) partition(questions []model.Question) [][]model.Question {
	var batches [][]model.Question
	var choice []model.Question

	flush := func() {
		if len(choice) > 0 {
			batches = append(batches, choice)
			choice = nil
		}
	}

	for _, q := range questions {
		switch q.Kind {
		case model.SingleChoice, model.MultipleChoice:
			choice = append(choice, q)
			if len(choice) >= rs.cfg.BatchSize {
				flush()
			}
		default:
			batches = append(batches, []model.Question{q})
		}
	}
	flush()
	return batches
}

func (rs *ResolverService) resolveBatch(ctx context.Context, batch []model.Question) (map[int]model.Answer, map[int]error, error) {
	if err := rs.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, rs.aiCfg.RequestTimeout)
	raw, err := rs.client.Complete(reqCtx, answerSystemPrompt, rs.buildPrompt(batch))
	cancel()

	if err != nil {
		if errors.Is(err, util.ErrResolverUnavailable) {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		// 单次补全超时或模型层错误：批内全部题目标记失败
		failures := make(map[int]error, len(batch))
		for _, q := range batch {
			failures[q.Index] = fmt.Errorf("completion failed: %w", err)
		}
		return nil, failures, nil
	}

	answers := make(map[int]model.Answer)
	failures := make(map[int]error)
	lines := indexedLines(raw)

	for _, q := range batch {
		text := raw
		if len(batch) > 1 {
			var ok bool
			if text, ok = lines[q.Index]; !ok {
				failures[q.Index] = fmt.Errorf("model response has no line for question %d", q.Index)
				text = ""
			}
		}

		var answer model.Answer
		parseErr := fmt.Errorf("empty response")
		if text != "" {
			answer, parseErr = parseAnswer(q, text, model.SourceModel)
		}
		if parseErr == nil {
			answers[q.Index] = answer
			continue
		}

		// 解析失败：用更严格的单题提示词重试一次
		answer, retryErr := rs.retryStrict(ctx, q)
		if retryErr != nil {
			failures[q.Index] = fmt.Errorf("unparseable answer: %v (retry: %v)", parseErr, retryErr)
			if errors.Is(retryErr, util.ErrResolverUnavailable) {
				return nil, nil, retryErr
			}
			continue
		}
		answers[q.Index] = answer
	}

	return answers, failures, nil
}

func (rs *ResolverService) retryStrict(ctx context.Context, q model.Question) (model.Answer, error) {
	if err := rs.limiter.Wait(ctx); err != nil {
		return model.Answer{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, rs.aiCfg.RequestTimeout)
	defer cancel()

	raw, err := rs.client.Complete(reqCtx, answerSystemPrompt, strictPrompt(q))
	if err != nil {
		return model.Answer{}, err
	}

	answer, parseErr := parseAnswer(q, raw, model.SourceFallback)
	if parseErr != nil {
		logger.Log.Warn("strict retry still unparseable",
			zap.Int("question", q.Index),
			zap.String("raw", truncate(raw, 120)))
		return model.Answer{}, parseErr
	}
	return answer, nil
}

// buildPrompt 按题型构造提示词；选项用稳定的字母标签枚举
func (rs *ResolverService) buildPrompt(batch []model.Question) string {
	var b strings.Builder

	if len(batch) == 1 {
		writeQuestion(&b, batch[0], false)
		return b.String()
	}

	b.WriteString("Answer the following quiz questions. Reply with one line per question, in the exact format \"<question number>: <answer>\".\n\n")
	for _, q := range batch {
		writeQuestion(&b, q, true)
		b.WriteString("\n")
	}
	return b.String()
}

func writeQuestion(b *strings.Builder, q model.Question, numbered bool) {
	if numbered {
		fmt.Fprintf(b, "Question %d", q.Index)
	} else {
		b.WriteString("Question")
	}

	switch q.Kind {
	case model.SingleChoice:
		b.WriteString(" (choose exactly one option, reply with its letter):\n")
	case model.MultipleChoice:
		b.WriteString(" (choose all options that apply, reply with their letters separated by commas):\n")
	case model.Ordering:
		b.WriteString(" (arrange ALL options in the correct order, reply with the letters separated by commas):\n")
	default:
		b.WriteString(" (reply with the answer text only):\n")
	}

	b.WriteString(q.Prompt)
	b.WriteString("\n")

	for i, opt := range q.Options {
		fmt.Fprintf(b, "%s. %s\n", model.OptionLabel(i), opt)
	}

	if q.Kind == model.FreeText && q.Context != "" {
		b.WriteString("\nPage context:\n")
		b.WriteString(truncate(q.Context, 1200))
		b.WriteString("\n")
	}
}

func strictPrompt(q model.Question) string {
	var b strings.Builder
	switch q.Kind {
	case model.SingleChoice:
		b.WriteString("Reply with EXACTLY ONE LETTER and nothing else.\n")
	case model.MultipleChoice:
		b.WriteString("Reply with ONLY the letters of correct options separated by commas, e.g. \"A,C\". Nothing else.\n")
	case model.Ordering:
		b.WriteString("Reply with ONLY the letters of all options in correct order separated by commas, e.g. \"B,A,C\". Nothing else.\n")
	default:
		b.WriteString("Reply with ONLY the answer, no explanation.\n")
	}
	writeQuestion(&b, q, false)
	return b.String()
}

var answerLineRe = regexp.MustCompile(`(?m)^\s*(?:Question\s*)?(\d+)\s*[:.)-]\s*(.+)$`)

// indexedLines 从批量回复中按题号切出各题的回答
func indexedLines(raw string) map[int]string {
	lines := make(map[int]string)
	for _, m := range answerLineRe.FindAllStringSubmatch(raw, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, exists := lines[idx]; !exists {
			lines[idx] = strings.TrimSpace(m[2])
		}
	}
	return lines
}

// parseAnswer 把模型原文按题型解析为结构化答案并校验形态
// 模型报出不存在的选项是可恢复的单题失败，不做猜测映射
func parseAnswer(q model.Question, raw string, source model.AnswerSource) (model.Answer, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.Answer{}, fmt.Errorf("empty answer text")
	}

	answer := model.Answer{QuestionIndex: q.Index, Kind: q.Kind, Source: source}

	switch q.Kind {
	case model.SingleChoice:
		idx, err := matchOption(q.Options, text)
		if err != nil {
			return model.Answer{}, err
		}
		answer.SelectedIndex = idx

	case model.MultipleChoice:
		indices, err := matchOptionList(q.Options, text)
		if err != nil {
			return model.Answer{}, err
		}
		answer.SelectedIndices = indices

	case model.Ordering:
		indices, err := matchOptionList(q.Options, text)
		if err != nil {
			return model.Answer{}, err
		}
		if len(indices) != len(q.Options) {
			return model.Answer{}, fmt.Errorf("ordering answer covers %d of %d options", len(indices), len(q.Options))
		}
		answer.SelectedIndices = indices

	case model.FreeText:
		answer.Text = strings.Trim(text, `"`)

	default:
		return model.Answer{}, fmt.Errorf("unknown question kind %q", q.Kind)
	}

	if !answer.ValidFor(q) {
		return model.Answer{}, fmt.Errorf("parsed answer shape invalid for kind %q", q.Kind)
	}
	return answer, nil
}

// matchOption 将单个标记解析为选项下标：接受字母标签或选项原文
func matchOption(options []string, token string) (int, error) {
	t := strings.TrimSpace(token)
	t = strings.Trim(t, `"'()[].`)
	t = strings.TrimSuffix(t, ".")
	t = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(t), "option "))

	// 字母标签
	if len(t) == 1 {
		c := strings.ToUpper(t)[0]
		if c >= 'A' && c <= 'Z' {
			idx := int(c - 'A')
			if idx < len(options) {
				return idx, nil
			}
			return 0, fmt.Errorf("option label %q out of range", string(c))
		}
	}

	// 选项原文（忽略大小写）
	for i, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), strings.TrimSpace(token)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("answer %q names no known option", token)
}

var listSplitRe = regexp.MustCompile(`\s*(?:,|;|\band\b|>|→)\s*`)

// matchOptionList 解析逗号/分号分隔的选项序列，保序去重
func matchOptionList(options []string, text string) ([]int, error) {
	tokens := listSplitRe.Split(text, -1)
	var indices []int
	seen := make(map[int]bool)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		idx, err := matchOption(options, tok)
		if err != nil {
			return nil, err
		}
		if seen[idx] {
			return nil, fmt.Errorf("option %s repeated", model.OptionLabel(idx))
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no options recognized in %q", truncate(text, 80))
	}
	return indices, nil
}

// truncate 截断到最多 n 字节，回退到符文边界避免拆碎多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
