package service

import (
	"context"
	"fmt"
	"strings"

	"quiz_solver_backend/internal/model"
	"quiz_solver_backend/internal/util"
	"quiz_solver_backend/pkg/logger"

	"go.uber.org/zap"
)

// scanScript 在页面内执行一次性扫描：
// 按文档顺序找出题目容器，打上稳定的 data-qs-idx 标记（提交阶段用它定位），
// 并带回每个容器的结构信号，分类在 Go 侧完成
const scanScript = `(() => {
	const candidates = ['[data-question]', '.question', 'form fieldset', 'fieldset'];
	let containers = [];
	for (const sel of candidates) {
		containers = Array.from(document.querySelectorAll(sel));
		if (containers.length > 0) break;
	}

	const grab = (el, sels) => {
		for (const s of sels) {
			const n = el.querySelector(s);
			if (n && n.innerText && n.innerText.trim()) return n.innerText.trim();
		}
		return '';
	};

	const results = containers.map((el, i) => {
		el.setAttribute('data-qs-idx', String(i));

		const radios = el.querySelectorAll('input[type=radio]').length;
		const checkboxes = el.querySelectorAll('input[type=checkbox]').length;
		const textInputs = el.querySelectorAll('textarea, input[type=text]').length;
		const selects = el.querySelectorAll('select').length;
		const draggables = el.querySelectorAll('[draggable=true], .sortable li, ol.ordering li').length;

		let options = [];
		if (radios > 0 || checkboxes > 0) {
			options = Array.from(el.querySelectorAll('label'))
				.map(l => l.innerText.trim())
				.filter(t => t.length > 0);
		} else if (draggables > 0) {
			options = Array.from(el.querySelectorAll('[draggable=true], .sortable li, ol.ordering li'))
				.map(n => n.innerText.trim())
				.filter(t => t.length > 0);
		} else if (selects > 0) {
			const first = el.querySelector('select');
			options = Array.from(first.options)
				.map(o => o.text.trim())
				.filter(t => t.length > 0 && !/^(--|select|choose)/i.test(t));
		}

		const prompt = grab(el, ['legend', '.prompt', '.question-text', 'h1', 'h2', 'h3', 'h4', 'p', 'label']);

		return { index: i, prompt, radios, checkboxes, textInputs, selects, draggables, options };
	});

	return {
		questions: results,
		pageText: (document.body.innerText || '').slice(0, 1500)
	};
})()`

type scannedQuestion struct {
	Index      int      `json:"index"`
	Prompt     string   `json:"prompt"`
	Radios     int      `json:"radios"`
	Checkboxes int      `json:"checkboxes"`
	TextInputs int      `json:"textInputs"`
	Selects    int      `json:"selects"`
	Draggables int      `json:"draggables"`
	Options    []string `json:"options"`
}

type pageScan struct {
	Questions []scannedQuestion `json:"questions"`
	PageText  string            `json:"pageText"`
}

// ExtractorService 题目提取器：扫描已认证页面并产出有序题目列表
type ExtractorService struct{}

func NewExtractorService() *ExtractorService {
	return &ExtractorService{}
}

// Extract 返回按文档顺序的题目列表，该顺序即全流程的权威下标
// 页面上一个题目容器都没有时返回 ErrExtraction
func (s *ExtractorService) Extract(ctx context.Context, sess *model.Session) ([]model.Question, error) {
	var scan pageScan
	if err := sess.Page.Evaluate(ctx, scanScript, &scan); err != nil {
		return nil, fmt.Errorf("page scan failed: %w", err)
	}

	if len(scan.Questions) == 0 {
		return nil, util.ErrExtraction
	}

	questions := make([]model.Question, 0, len(scan.Questions))
	for _, sq := range scan.Questions {
		q := model.Question{
			Index:   sq.Index,
			Prompt:  strings.TrimSpace(sq.Prompt),
			Kind:    classify(sq),
			Options: sq.Options,
			Locator: fmt.Sprintf(`[data-qs-idx="%d"]`, sq.Index),
			Context: scan.PageText,
		}
		if q.Kind == model.FreeText {
			q.Options = nil
		}
		questions = append(questions, q)
	}

	logger.Log.Info("questions extracted",
		zap.String("session_id", sess.ID),
		zap.Int("count", len(questions)))
	return questions, nil
}

// classify 按结构信号判定题型；无法识别的一律降级为 free_text，
// 单个题目的歧义绝不让整次提取失败
func classify(sq scannedQuestion) model.QuestionKind {
	switch {
	case sq.Draggables >= 2 && len(sq.Options) >= 2:
		return model.Ordering
	case sq.Selects > 1 && len(sq.Options) >= 2:
		// 每个位置一个下拉框的排序题
		return model.Ordering
	case sq.Radios >= 2 && len(sq.Options) >= 2:
		return model.SingleChoice
	case sq.Checkboxes >= 2 && len(sq.Options) >= 2:
		return model.MultipleChoice
	case sq.Selects == 1 && len(sq.Options) >= 2:
		return model.SingleChoice
	default:
		return model.FreeText
	}
}
