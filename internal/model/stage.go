package model

import "fmt"

// Stage 是生成流水线的游标，同一时刻只有一个阶段处于流式生成中。
type Stage string

const (
	StageNone     Stage = "none"
	StageReport   Stage = "report"
	StageThinking Stage = "thinking"
	StageInitial  Stage = "initial"
	StageAdvice   Stage = "advice"
	StageFinal    Stage = "final"
)

var orderedStages = []Stage{StageReport, StageThinking, StageInitial, StageAdvice, StageFinal}

// Stages 按执行顺序返回五个生成阶段。
func Stages() []Stage {
	return append([]Stage(nil), orderedStages...)
}

// ParseStage 将字符串解析为生成阶段，none 不是合法的生成阶段。
func ParseStage(s string) (Stage, error) {
	for _, st := range orderedStages {
		if string(st) == s {
			return st, nil
		}
	}
	return StageNone, fmt.Errorf("unknown stage %q", s)
}

func (s Stage) index() int {
	for i, st := range orderedStages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next 返回下一个阶段，最后一个阶段之后为 StageNone。
func (s Stage) Next() Stage {
	i := s.index()
	if i < 0 || i+1 >= len(orderedStages) {
		return StageNone
	}
	return orderedStages[i+1]
}

// Prev 返回上游阶段，需求报告没有上游阶段。
func (s Stage) Prev() Stage {
	i := s.index()
	if i <= 0 {
		return StageNone
	}
	return orderedStages[i-1]
}

// IsList 表示该阶段的产物是否为列表（思考要点、优化建议）。
func (s Stage) IsList() bool {
	return s == StageThinking || s == StageAdvice
}

// Label 返回用于提示信息的中文名称。
func (s Stage) Label() string {
	switch s {
	case StageReport:
		return "需求报告"
	case StageThinking:
		return "思考要点"
	case StageInitial:
		return "初版提示词"
	case StageAdvice:
		return "优化建议"
	case StageFinal:
		return "最终提示词"
	default:
		return "空闲"
	}
}

// Language 是生成内容使用的语言。
type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

// ParseLanguage 解析语言，非法值返回错误。
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case LanguageZH, LanguageEN:
		return Language(s), nil
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Other 返回另一种语言。
func (l Language) Other() Language {
	if l == LanguageEN {
		return LanguageZH
	}
	return LanguageEN
}

// PromptFormat 是最终提示词的呈现格式。
type PromptFormat string

const (
	FormatMarkdown PromptFormat = "markdown"
	FormatXML      PromptFormat = "xml"
)

// ParsePromptFormat 解析格式，非法值返回错误。
func ParsePromptFormat(s string) (PromptFormat, error) {
	switch PromptFormat(s) {
	case FormatMarkdown, FormatXML:
		return PromptFormat(s), nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// PromptType 表示要生成的是系统提示词还是用户提示词。
type PromptType string

const (
	PromptTypeSystem PromptType = "system"
	PromptTypeUser   PromptType = "user"
)

// ParsePromptType 解析提示词类型，非法值返回错误。
func ParsePromptType(s string) (PromptType, error) {
	switch PromptType(s) {
	case PromptTypeSystem, PromptTypeUser:
		return PromptType(s), nil
	}
	return "", fmt.Errorf("unsupported prompt type %q", s)
}
