package service

import (
	"context"
	"encoding/json"
	"fmt"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/logger"

	"go.uber.org/zap"
)

// SubmissionService 提交引擎：把已解析答案写回页面控件并触发提交
type SubmissionService struct {
	cfg config.SolverConfig
}

func NewSubmissionService(cfg config.SolverConfig) *SubmissionService {
	return &SubmissionService{cfg: cfg}
}

// SubmissionReport 提交阶段的产出
type SubmissionReport struct {
	// Statuses 仅包含实际处理过的题目：写入成功 answered，缺答案 skipped，写入失败 failed
	Statuses  map[int]model.OutcomeStatus
	Errors    map[int]error
	Confirmed bool
	NextURL   string
}

// Submit 依下标顺序写入答案，统一提交，并等待页面确认信号
// 确认信号超时返回 ErrSubmission；不自动重试，重复提交风险必须暴露给调用方
func (ss *SubmissionService) Submit(ctx context.Context, sess *model.Session, questions []model.Question, answers map[int]model.Answer) (*SubmissionReport, error) {
	report := &SubmissionReport{
		Statuses: make(map[int]model.OutcomeStatus, len(questions)),
		Errors:   make(map[int]error),
	}

	for _, q := range questions {
		answer, ok := answers[q.Index]
		if !ok {
			// 上游解析失败的题：跳过而不是失败
			report.Statuses[q.Index] = model.StatusSkipped
			continue
		}

		if err := ss.fillControl(ctx, sess, q, answer); err != nil {
			report.Statuses[q.Index] = model.StatusFailed
			report.Errors[q.Index] = fmt.Errorf("set control: %w", err)
			logger.Log.Warn("failed to set page control",
				zap.String("session_id", sess.ID),
				zap.Int("question", q.Index),
				zap.Error(err))
			continue
		}
		report.Statuses[q.Index] = model.StatusAnswered
	}

	if err := sess.Page.Click(ctx, ss.cfg.SubmitSelector); err != nil {
		return report, fmt.Errorf("%w: submit control not clickable: %v", util.ErrSubmission, err)
	}

	if err := sess.Page.WaitVisible(ctx, ss.cfg.ConfirmSelector, ss.cfg.ConfirmTimeout); err != nil {
		return report, fmt.Errorf("%w: waited %s for %q", util.ErrSubmission, ss.cfg.ConfirmTimeout, ss.cfg.ConfirmSelector)
	}
	report.Confirmed = true

	// 确认块里可能带下一份测验的链接（测验链模式）
	var next string
	if err := sess.Page.Evaluate(ctx, nextLinkScript, &next); err == nil {
		report.NextURL = next
	}

	logger.Log.Info("submission confirmed",
		zap.String("session_id", sess.ID),
		zap.String("next_url", report.NextURL))
	return report, nil
}

const nextLinkScript = `(() => {
	const a = document.querySelector('a[rel=next], .next a[href], a.next-quiz, .confirmation a[href], .quiz-result a[href]');
	return a ? a.href : '';
})()`

// fillControl 按题型写入单个题目的控件
// 写入走页面内脚本：点击选项所在的 input、填文本并派发 input 事件、
// 或按目标顺序重排可拖拽列表节点
func (ss *SubmissionService) fillControl(ctx context.Context, sess *model.Session, q model.Question, a model.Answer) error {
	var script string

	switch q.Kind {
	case model.SingleChoice:
		optionText := ""
		if a.SelectedIndex < len(q.Options) {
			optionText = q.Options[a.SelectedIndex]
		}
		script = fillSingleChoiceScript(q.Locator, a.SelectedIndex, optionText)
	case model.MultipleChoice:
		script = fillIndicesScript(q.Locator, "input[type=checkbox]", a.SelectedIndices)
	case model.Ordering:
		script = fillOrderingScript(q.Locator, a.SelectedIndices, q.Options)
	case model.FreeText:
		script = fillTextScript(q.Locator, a.Text)
	default:
		return fmt.Errorf("unknown question kind %q", q.Kind)
	}

	var ok bool
	if err := sess.Page.Evaluate(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("control not found under %s", q.Locator)
	}
	return nil
}

// fillSingleChoiceScript 单选：点击对应下标的 radio；
// 下拉框形式按选项文本匹配（扫描时过滤过占位项，下标不可直接复用）
func fillSingleChoiceScript(locator string, index int, optionText string) string {
	textJSON, _ := json.Marshal(optionText)
	return fmt.Sprintf(`(() => {
	const c = document.querySelector(%q);
	if (!c) return false;
	const sel = c.querySelector('select');
	if (sel) {
		const want = %s.trim();
		for (let i = 0; i < sel.options.length; i++) {
			if (sel.options[i].text.trim() === want) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	}
	const inputs = c.querySelectorAll('input[type=radio]');
	if (%d < 0 || %d >= inputs.length) return false;
	inputs[%d].click();
	return true;
})()`, locator, string(textJSON), index, index, index)
}

func fillIndicesScript(locator, inputSel string, indices []int) string {
	idxJSON, _ := json.Marshal(indices)
	return fmt.Sprintf(`(() => {
	const c = document.querySelector(%q);
	if (!c) return false;
	const inputs = c.querySelectorAll(%q);
	for (const i of %s) {
		if (i < 0 || i >= inputs.length) return false;
		inputs[i].click();
	}
	return true;
})()`, locator, inputSel, string(idxJSON))
}

func fillTextScript(locator, text string) string {
	textJSON, _ := json.Marshal(text)
	return fmt.Sprintf(`(() => {
	const c = document.querySelector(%q);
	if (!c) return false;
	const el = c.querySelector('textarea, input[type=text]');
	if (!el) return false;
	el.value = %s;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, locator, string(textJSON))
}

// fillOrderingScript 把列表节点按目标排列重新挂载；
// select-per-position 形式按选项文本匹配（扫描时过滤过占位项，下标不可直接复用）
func fillOrderingScript(locator string, order []int, options []string) string {
	orderJSON, _ := json.Marshal(order)
	optsJSON, _ := json.Marshal(options)
	return fmt.Sprintf(`(() => {
	const c = document.querySelector(%q);
	if (!c) return false;
	const order = %s;
	const texts = %s;

	const selects = c.querySelectorAll('select');
	if (selects.length > 1) {
		if (selects.length !== order.length) return false;
		for (let p = 0; p < order.length; p++) {
			if (order[p] < 0 || order[p] >= texts.length) return false;
			const want = texts[order[p]].trim();
			let hit = -1;
			for (let i = 0; i < selects[p].options.length; i++) {
				if (selects[p].options[i].text.trim() === want) { hit = i; break; }
			}
			if (hit < 0) return false;
			selects[p].selectedIndex = hit;
			selects[p].dispatchEvent(new Event('change', {bubbles: true}));
		}
		return true;
	}

	const items = Array.from(c.querySelectorAll('[draggable=true], .sortable li, ol.ordering li'));
	if (items.length !== order.length) return false;
	const parent = items[0].parentNode;
	for (const i of order) {
		parent.appendChild(items[i]);
	}
	return true;
})()`, locator, string(orderJSON), string(optsJSON))
}
