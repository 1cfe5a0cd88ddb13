package model

// QuestionKind 题目类型，提取阶段一次性判定，之后不再变化
type QuestionKind string

const (
	SingleChoice   QuestionKind = "single_choice"
	MultipleChoice QuestionKind = "multiple_choice"
	FreeText       QuestionKind = "free_text"
	Ordering       QuestionKind = "ordering"
)

// Valid 判断是否为已知题型
func (k QuestionKind) Valid() bool {
	switch k {
	case SingleChoice, MultipleChoice, FreeText, Ordering:
		return true
	}
	return false
}

// Question 从测验页面提取出的单个题目
// swagger:model Question
type Question struct {
	// Index 按页面文档顺序的稳定下标，贯穿整个求解流程
	Index   int          `json:"index"`
	Prompt  string       `json:"prompt"`
	Kind    QuestionKind `json:"kind"`
	Options []string     `json:"options,omitempty"` // free_text 题为空

	// Locator 提取时写入页面的容器选择器，仅提交引擎使用
	Locator string `json:"-"`

	// Context 题目周边的页面文本片段，作为 free_text 提示词的背景材料
	Context string `json:"-"`
}

// OptionLabel 返回选项的稳定字母标签（A、B、C…），用于提示词和答案解析
func OptionLabel(i int) string {
	if i < 0 || i >= 26 {
		return ""
	}
	return string(rune('A' + i))
}
