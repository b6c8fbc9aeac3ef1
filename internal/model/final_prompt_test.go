package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteToBilingualKeepsPlainText(t *testing.T) {
	got := PromoteToBilingual(PlainPrompt{Content: "some text"}, LanguageZH)
	assert.Equal(t, BilingualPrompt{ZH: "some text", EN: ""}, got)

	got = PromoteToBilingual(PlainPrompt{Content: "hello"}, LanguageEN)
	assert.Equal(t, BilingualPrompt{ZH: "", EN: "hello"}, got)
}

func TestPromoteNeverDowngrades(t *testing.T) {
	matrix := MatrixPrompt{Markdown: BilingualPrompt{ZH: "a"}, XML: BilingualPrompt{ZH: "<a/>"}}
	assert.Equal(t, matrix, PromoteToBilingual(matrix, LanguageZH))
	assert.Equal(t, matrix, PromoteToMatrix(matrix, LanguageEN))

	bi := BilingualPrompt{ZH: "中", EN: "en"}
	assert.Equal(t, bi, PromoteToBilingual(bi, LanguageEN))
}

func TestPromoteToMatrixFromPlain(t *testing.T) {
	m := PromoteToMatrix(PlainPrompt{Content: "some text"}, LanguageZH)
	m = m.With(FormatXML, LanguageZH, "<converted>")

	assert.Equal(t, MatrixPrompt{
		Markdown: BilingualPrompt{ZH: "some text", EN: ""},
		XML:      BilingualPrompt{ZH: "<converted>", EN: ""},
	}, m)
}

func TestReplacePrimaryKeepsKind(t *testing.T) {
	assert.Equal(t, PlainPrompt{Content: "new"}, ReplacePrimary(nil, LanguageZH, "new"))
	assert.Equal(t, BilingualPrompt{EN: "new"}, ReplacePrimary(BilingualPrompt{ZH: "old", EN: "old"}, LanguageEN, "new"))

	got := ReplacePrimary(MatrixPrompt{XML: BilingualPrompt{ZH: "<old/>"}}, LanguageZH, "new")
	assert.Equal(t, KindMatrix, got.Kind())
	assert.Equal(t, "new", got.Text(FormatMarkdown, LanguageZH))
	assert.Equal(t, "", got.Text(FormatXML, LanguageZH))
}

func TestFinalPromptEnvelope(t *testing.T) {
	cases := []FinalPrompt{
		nil,
		PlainPrompt{Content: "x"},
		BilingualPrompt{ZH: "中", EN: "en"},
		MatrixPrompt{Markdown: BilingualPrompt{ZH: "m"}, XML: BilingualPrompt{EN: "<x/>"}},
	}
	for _, fp := range cases {
		data, err := MarshalFinalPrompt(fp)
		require.NoError(t, err)
		back, err := UnmarshalFinalPrompt(data)
		require.NoError(t, err)
		assert.Equal(t, fp, back)
	}

	_, err := UnmarshalFinalPrompt([]byte(`{"kind":"weird"}`))
	assert.Error(t, err)
}

func TestArtifactsJSONCarriesFinalPromptKind(t *testing.T) {
	a := PipelineArtifacts{
		RequirementReport: "report",
		ThinkingPoints:    []string{"Be concise"},
		FinalPrompt:       BilingualPrompt{ZH: "中文"},
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"bilingual"`)

	var back PipelineArtifacts
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)
}

func TestArtifactsHas(t *testing.T) {
	var a PipelineArtifacts
	for _, st := range Stages() {
		assert.False(t, a.Has(st), st)
	}
	a.FinalPrompt = PlainPrompt{}
	assert.False(t, a.Has(StageFinal))
	a.FinalPrompt = PlainPrompt{Content: "x"}
	assert.True(t, a.Has(StageFinal))
}

func TestStageOrder(t *testing.T) {
	assert.Equal(t, StageThinking, StageReport.Next())
	assert.Equal(t, StageNone, StageFinal.Next())
	assert.Equal(t, StageInitial, StageAdvice.Prev())
	assert.Equal(t, StageNone, StageReport.Prev())

	st, err := ParseStage("advice")
	require.NoError(t, err)
	assert.Equal(t, StageAdvice, st)
	_, err = ParseStage("none")
	assert.Error(t, err)
}

func TestIdleStatusStageIsNone(t *testing.T) {
	st := IdleStatus()
	assert.Equal(t, StageNone, st.Stage)
	assert.True(t, st.Idle())

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":"none"`)
}

func TestSnapshotWithEmptyStageDecodesAsNone(t *testing.T) {
	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s1","status":{"stage":"","isTyping":false}}`), &snap))
	assert.Equal(t, StageNone, snap.Status.Stage)
	assert.True(t, snap.Status.Idle())

	var st SessionStatus
	require.NoError(t, json.Unmarshal([]byte(`{"stage":"advice","isGenerating":true}`), &st))
	assert.Equal(t, SessionStatus{Stage: StageAdvice, IsGenerating: true}, st)
}
