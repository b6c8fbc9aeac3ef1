// Package trigger 判断对话是否应自动进入生成流水线。
//
// DecisionPhrases 与引导系统提示词之间是一份脆弱的字符串约定：
// 引导提示词要求模型在信息收集完毕时原样输出决策短语，检测器据此启动流水线。
// 两边必须一起修改。
package trigger

import (
	"prompt-forge-go/internal/config"
	"strings"
)

// DefaultForceKeywords 是用户要求立即生成需求报告的关键词。
var DefaultForceKeywords = []string{
	"强制生成需求报告",
	"直接生成需求报告",
	"立即生成需求报告",
	"重新生成需求报告",
	"force generate",
}

// DefaultDecisionPhrases 是引导提示词训练模型输出的决策短语。
var DefaultDecisionPhrases = []string{
	"基于我们的对话，我现在将生成需求报告：",
	"Based on our conversation, I will now generate the requirement report:",
}

// Detector 持有可配置的触发短语集合。
type Detector struct {
	forceKeywords   []string
	decisionPhrases []string
}

// NewDetector 使用给定短语创建检测器，空集合回退到默认值。
func NewDetector(forceKeywords, decisionPhrases []string) *Detector {
	if len(forceKeywords) == 0 {
		forceKeywords = DefaultForceKeywords
	}
	if len(decisionPhrases) == 0 {
		decisionPhrases = DefaultDecisionPhrases
	}
	return &Detector{
		forceKeywords:   append([]string(nil), forceKeywords...),
		decisionPhrases: append([]string(nil), decisionPhrases...),
	}
}

// NewDetectorFromConfig 从 workflow.triggers 配置创建检测器。
func NewDetectorFromConfig(cfg config.TriggersConfig) *Detector {
	return NewDetector(cfg.ForceKeywords, cfg.DecisionPhrases)
}

// CheckForceGenerate 判断用户输入是否包含任一强制生成关键词。区分大小写，不做归一化。
func (d *Detector) CheckForceGenerate(userText string) bool {
	return containsAny(userText, d.forceKeywords)
}

// CheckAIDecision 判断助手回复是否包含决策短语。
func (d *Detector) CheckAIDecision(assistantText string) bool {
	return containsAny(assistantText, d.decisionPhrases)
}

// DecisionPhrase 返回指定语言应当写进引导提示词的决策短语。
func (d *Detector) DecisionPhrase(english bool) string {
	for _, p := range d.decisionPhrases {
		if isASCII(p) == english {
			return p
		}
	}
	return d.decisionPhrases[0]
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
