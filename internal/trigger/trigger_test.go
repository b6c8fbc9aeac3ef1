package trigger

import (
	"prompt-forge-go/internal/config"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckForceGenerate(t *testing.T) {
	d := NewDetector(nil, nil)

	assert.True(t, d.CheckForceGenerate("请强制生成需求报告"))
	assert.False(t, d.CheckForceGenerate("你好"))
	assert.True(t, d.CheckForceGenerate("ok, force generate now"))
	// 区分大小写
	assert.False(t, d.CheckForceGenerate("FORCE GENERATE"))
}

func TestCheckAIDecision(t *testing.T) {
	d := NewDetector(nil, nil)

	reply := "信息已经足够了。\n\n基于我们的对话，我现在将生成需求报告："
	assert.True(t, d.CheckAIDecision(reply))
	assert.True(t, d.CheckAIDecision("Based on our conversation, I will now generate the requirement report:"))
	assert.False(t, d.CheckAIDecision("请问您的目标用户是谁？"))
}

func TestConfiguredPhrasesReplaceDefaults(t *testing.T) {
	d := NewDetectorFromConfig(config.TriggersConfig{
		ForceKeywords:   []string{"GO!"},
		DecisionPhrases: []string{"READY:"},
	})

	assert.True(t, d.CheckForceGenerate("GO!"))
	assert.False(t, d.CheckForceGenerate("强制生成需求报告"))
	assert.True(t, d.CheckAIDecision("now READY: report"))
	assert.Equal(t, "READY:", d.DecisionPhrase(true))
	assert.Equal(t, "READY:", d.DecisionPhrase(false))
}

func TestDecisionPhraseByLanguage(t *testing.T) {
	d := NewDetector(nil, nil)
	assert.Equal(t, DefaultDecisionPhrases[1], d.DecisionPhrase(true))
	assert.Equal(t, DefaultDecisionPhrases[0], d.DecisionPhrase(false))
}
