package model

// AnswerSource 答案来源标记
type AnswerSource string

const (
	SourceModel    AnswerSource = "model"    // 模型首次输出解析成功
	SourceFallback AnswerSource = "fallback" // 严格模式重试后解析成功
)

// Answer 某一题的已解析答案，payload 形态必须与题型匹配
type Answer struct {
	QuestionIndex int          `json:"questionIndex"`
	Kind          QuestionKind `json:"kind"`
	Source        AnswerSource `json:"source"`

	// SelectedIndex 单选题选中的选项下标
	SelectedIndex int `json:"selectedIndex,omitempty"`
	// SelectedIndices 多选题选中的选项下标集合，排序题为完整排列
	SelectedIndices []int `json:"selectedIndices,omitempty"`
	// Text 填空/简答题的原文答案（已去除首尾空白）
	Text string `json:"text,omitempty"`
}

// ValidFor 校验 payload 形态与题目是否一致
func (a Answer) ValidFor(q Question) bool {
	if a.Kind != q.Kind || a.QuestionIndex != q.Index {
		return false
	}
	switch q.Kind {
	case SingleChoice:
		return a.SelectedIndex >= 0 && a.SelectedIndex < len(q.Options)
	case MultipleChoice:
		if len(a.SelectedIndices) == 0 {
			return false
		}
		seen := make(map[int]bool, len(a.SelectedIndices))
		for _, i := range a.SelectedIndices {
			if i < 0 || i >= len(q.Options) || seen[i] {
				return false
			}
			seen[i] = true
		}
		return true
	case Ordering:
		// 必须是全部选项下标的一个排列
		if len(a.SelectedIndices) != len(q.Options) {
			return false
		}
		seen := make(map[int]bool, len(a.SelectedIndices))
		for _, i := range a.SelectedIndices {
			if i < 0 || i >= len(q.Options) || seen[i] {
				return false
			}
			seen[i] = true
		}
		return true
	case FreeText:
		return a.Text != ""
	}
	return false
}
