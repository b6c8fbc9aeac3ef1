package workflow

import (
	"context"
	"errors"
	"fmt"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/trigger"
	"prompt-forge-go/pkg/llm"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCall struct {
	chunks []string
	err    error
	// block 为真时，发送完 chunks 后关闭 reached 并阻塞到 ctx 取消
	block   bool
	reached chan struct{}
}

type fakeClient struct {
	mu        sync.Mutex
	script    []scriptedCall
	calls     [][]llm.Message
	streaming []bool
}

func (f *fakeClient) Call(ctx context.Context, msgs []llm.Message, _ llm.Target, streaming bool, onChunk llm.ChunkHandler) (string, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, msgs)
	f.streaming = append(f.streaming, streaming)
	sc := scriptedCall{chunks: []string{"ok"}}
	if idx < len(f.script) {
		sc = f.script[idx]
	}
	f.mu.Unlock()

	var sb strings.Builder
	for _, c := range sc.chunks {
		if ctx.Err() != nil {
			return sb.String(), fmt.Errorf("%w: %v", llm.ErrAborted, ctx.Err())
		}
		sb.WriteString(c)
		if streaming && onChunk != nil {
			onChunk(c)
		}
	}
	if sc.block {
		close(sc.reached)
		<-ctx.Done()
		return sb.String(), fmt.Errorf("%w: %v", llm.ErrAborted, ctx.Err())
	}
	if sc.err != nil {
		return sb.String(), sc.err
	}
	return sb.String(), nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) call(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type notice struct {
	level   NoticeLevel
	message string
}

type recorder struct {
	mu        sync.Mutex
	activated []model.Stage
	artifacts []model.PipelineArtifacts
	statuses  []model.SessionStatus
	notices   []notice
}

func (r *recorder) Notify(_ string, level NoticeLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{level, message})
}

func (r *recorder) StageActivated(_ string, stage model.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = append(r.activated, stage)
}

func (r *recorder) ArtifactsChanged(_ string, a model.PipelineArtifacts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, a)
}

func (r *recorder) TurnsChanged(string, []model.ConversationTurn) {}

func (r *recorder) StatusChanged(_ string, st model.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) noticesOf(level NoticeLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notices {
		if n.level == level {
			out = append(out, n.message)
		}
	}
	return out
}

type staticResolver struct {
	err error
}

func (s staticResolver) Resolve(sel model.ProviderSelection) (llm.Target, error) {
	if s.err != nil {
		return llm.Target{}, s.err
	}
	return llm.Target{ProviderID: sel.ProviderID, ProviderType: llm.TypeMock, Model: sel.ModelID}, nil
}

type harness struct {
	client *fakeClient
	rec    *recorder
	opts   Options
	delays []time.Duration
}

func newHarness(script ...scriptedCall) *harness {
	h := &harness{client: &fakeClient{script: script}, rec: &recorder{}}
	h.opts = Options{
		Client:         h.client,
		Resolver:       staticResolver{},
		Notifier:       h.rec,
		Observer:       h.rec,
		Detector:       trigger.NewDetector(nil, nil),
		AutoStartDelay: 800 * time.Millisecond,
		Streaming:      true,
		Delay: func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
	}
	return h
}

var testSelection = model.ProviderSelection{ProviderID: "local", ModelID: "echo"}

func (h *harness) session() *Session {
	return NewSession("s1", 1, Settings{Selection: testSelection}, h.opts)
}

// seeded 构造一个已有对话与产物的会话。
func (h *harness) seeded(artifacts model.PipelineArtifacts, userTurns ...string) *Session {
	snap := model.SessionSnapshot{ID: "s1", UserID: 1, Selection: testSelection, Language: model.LanguageZH, PromptType: model.PromptTypeSystem, Artifacts: artifacts}
	for i, c := range userTurns {
		snap.Turns = append(snap.Turns, model.ConversationTurn{ID: fmt.Sprintf("u%d", i), Role: model.RoleUser, Content: c})
	}
	return RestoreSession(snap, h.opts)
}

func text(chunks ...string) scriptedCall { return scriptedCall{chunks: chunks} }

func fullArtifacts() model.PipelineArtifacts {
	return model.PipelineArtifacts{
		RequirementReport: "report v1",
		ThinkingPoints:    []string{"point v1"},
		InitialPrompt:     "initial v1",
		Advice:            []string{"advice v1"},
		FinalPrompt:       model.PlainPrompt{Content: "final v1"},
	}
}

func TestForceKeywordRunsSequentialWorkflow(t *testing.T) {
	h := newHarness(
		text("# 需求", "报告\n客服机器人"),
		text("- Be concise\n", "- Use markdown\n"),
		text("```markdown\n", "You are a support bot.", "\n```"),
		text("- Add examples"),
		text("以下是最终提示词：\n", "You are a friendly support bot."),
	)
	s := h.session()

	run, err := s.StartChat("请强制生成需求报告", nil)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	a := s.Artifacts()
	assert.Equal(t, "# 需求报告\n客服机器人", a.RequirementReport)
	assert.Equal(t, []string{"Be concise", "Use markdown"}, a.ThinkingPoints)
	assert.Equal(t, "You are a support bot.", a.InitialPrompt)
	assert.Equal(t, []string{"Add examples"}, a.Advice)
	assert.Equal(t, model.PlainPrompt{Content: "You are a friendly support bot."}, a.FinalPrompt)

	assert.Equal(t, 5, h.client.callCount())
	assert.Equal(t, model.Stages(), h.rec.activated)
	assert.True(t, s.Status().Idle())
	assert.NotEmpty(t, h.rec.noticesOf(NoticeSuccess))

	// 每个阶段的输入都来自上游产物
	assert.Contains(t, h.client.call(1)[1].Content, "客服机器人")
	assert.Contains(t, h.client.call(2)[1].Content, "- Use markdown")
	assert.Contains(t, h.client.call(4)[1].Content, "- Add examples")

	// 进度消息在结束后移除，只剩用户发言
	turns := s.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)
}

func TestSequentialArtifactsPopulateLeftToRight(t *testing.T) {
	h := newHarness(text("r"), text("- t"), text("i"), text("- a"), text("f"))
	s := h.seeded(model.PipelineArtifacts{}, "Build me a customer support bot")

	run, err := s.StartWorkflow()
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	stages := model.Stages()
	for _, snap := range h.rec.artifacts {
		for i := 1; i < len(stages); i++ {
			if snap.Has(stages[i]) {
				assert.True(t, snap.Has(stages[i-1]), "%s present before %s", stages[i], stages[i-1])
			}
		}
	}
}

func TestChatDecisionAutoStartsAfterDelay(t *testing.T) {
	h := newHarness(
		text("好的。", "基于我们的对话，我现在将生成需求报告：", "\n目标是客服机器人。"),
		text("report"), text("- t"), text("initial"), text("- a"), text("final"),
	)
	s := h.session()

	run, err := s.StartChat("我想做一个客服机器人", nil)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, []time.Duration{800 * time.Millisecond}, h.delays)
	assert.Equal(t, 6, h.client.callCount())
	guidance := h.client.call(0)[0]
	assert.Equal(t, "system", guidance.Role)
	assert.Contains(t, guidance.Content, "基于我们的对话，我现在将生成需求报告：")

	turns := s.ValidTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Contains(t, turns[1].Content, "目标是客服机器人")
	assert.Equal(t, model.PlainPrompt{Content: "final"}, s.Artifacts().FinalPrompt)
}

func TestChatWithoutDecisionOnlyReplies(t *testing.T) {
	h := newHarness(text("Who ", "are the users?"))
	s := h.session()

	run, err := s.StartChat("Build me a customer support bot", nil)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, 1, h.client.callCount())
	assert.Empty(t, h.delays)
	turns := s.ValidTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Who are the users?", turns[1].Content)
	assert.False(t, s.Artifacts().Has(model.StageReport))
	assert.True(t, s.Status().Idle())
	assert.Equal(t, "Build me a customer support bot", s.Snapshot().Title)
}

func TestManualAdviceWithoutInitialIsValidationWarning(t *testing.T) {
	h := newHarness()
	s := h.seeded(model.PipelineArtifacts{}, "Build me a customer support bot")

	run, err := s.StartStage(model.StageAdvice)
	assert.Nil(t, run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Len(t, h.rec.noticesOf(NoticeWarning), 1)
	assert.Equal(t, model.StageNone, s.Status().Stage)
	assert.False(t, s.Busy())
	assert.Equal(t, 0, h.client.callCount())
}

func TestRegenerateStageDoesNotCascade(t *testing.T) {
	h := newHarness(text("initial v2"))
	s := h.seeded(fullArtifacts(), "bot")

	run, err := s.StartStage(model.StageInitial)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	want := fullArtifacts()
	want.InitialPrompt = "initial v2"
	assert.Equal(t, want, s.Artifacts())
	assert.Equal(t, 1, h.client.callCount())
	assert.Equal(t, []model.Stage{model.StageInitial}, h.rec.activated)
}

func TestInterruptMidInitialKeepsPartialText(t *testing.T) {
	reached := make(chan struct{})
	h := newHarness(scriptedCall{chunks: []string{"Partial ", "prompt"}, block: true, reached: reached})
	s := h.seeded(model.PipelineArtifacts{RequirementReport: "r", ThinkingPoints: []string{"t"}}, "bot")

	run, err := s.StartStage(model.StageInitial)
	require.NoError(t, err)
	<-reached
	assert.Equal(t, model.SessionStatus{Stage: model.StageInitial, IsGenerating: true}, s.Status())

	assert.True(t, s.Interrupt())
	assert.Equal(t, model.IdleStatus(), s.Status())

	err = run.Wait()
	assert.True(t, errors.Is(err, llm.ErrAborted))
	assert.Equal(t, "Partial prompt", s.Artifacts().InitialPrompt)
	assert.Equal(t, model.IdleStatus(), s.Status())
	assert.Empty(t, h.rec.noticesOf(NoticeError))
	assert.False(t, s.Busy())
}

func TestSecondStartWhileRunningIsBusy(t *testing.T) {
	reached := make(chan struct{})
	h := newHarness(scriptedCall{chunks: []string{"r"}, block: true, reached: reached})
	s := h.seeded(model.PipelineArtifacts{}, "bot")

	run, err := s.StartStage(model.StageReport)
	require.NoError(t, err)
	<-reached

	_, err = s.StartStage(model.StageReport)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.StartChat("hello", nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.Configure(Settings{Language: model.LanguageEN}), ErrBusy)
	_, err = s.ConvertFinalPromptFormat(model.FormatXML, "")
	assert.ErrorIs(t, err, ErrBusy)

	s.Interrupt()
	_ = run.Wait()
	assert.Len(t, s.ValidTurns(), 1)
}

func TestProviderErrorAbortsChainAndResets(t *testing.T) {
	provErr := &llm.ProviderError{Provider: "local", Status: 500, Message: "upstream exploded"}
	h := newHarness(text("report"), scriptedCall{chunks: []string{"- half"}, err: provErr})
	s := h.seeded(model.PipelineArtifacts{}, "bot")

	run, err := s.StartWorkflow()
	require.NoError(t, err)
	err = run.Wait()

	assert.True(t, errors.Is(err, llm.ErrProviderCall))
	assert.Equal(t, 2, h.client.callCount())
	errs := h.rec.noticesOf(NoticeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "upstream exploded")

	a := s.Artifacts()
	assert.Equal(t, "report", a.RequirementReport)
	assert.Equal(t, []string{"half"}, a.ThinkingPoints)
	assert.Empty(t, a.InitialPrompt)
	assert.True(t, s.Status().Idle())
}

func TestEmptyStageOutputAbortsChain(t *testing.T) {
	h := newHarness(text("report"), text("```\n```"))
	s := h.seeded(model.PipelineArtifacts{}, "bot")

	run, err := s.StartWorkflow()
	require.NoError(t, err)
	err = run.Wait()

	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.Equal(t, 2, h.client.callCount())
	assert.Len(t, h.rec.noticesOf(NoticeError), 1)
	assert.True(t, s.Status().Idle())
}

func TestConfigurationErrorLeavesNoState(t *testing.T) {
	h := newHarness()
	h.opts.Resolver = staticResolver{err: fmt.Errorf("%w: 请先选择模型服务商和模型", registry.ErrConfiguration)}
	s := h.session()

	_, err := s.StartChat("hello", nil)
	assert.ErrorIs(t, err, registry.ErrConfiguration)
	assert.Empty(t, s.Turns())
	assert.Len(t, h.rec.noticesOf(NoticeWarning), 1)
	assert.Equal(t, 0, h.client.callCount())
}

func TestNonStreamingWritesOnce(t *testing.T) {
	h := newHarness(text("a", "b", "c"))
	h.opts.Streaming = false
	s := h.seeded(model.PipelineArtifacts{}, "bot")

	run, err := s.StartStage(model.StageReport)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Len(t, h.rec.artifacts, 1)
	assert.Equal(t, "abc", s.Artifacts().RequirementReport)
	assert.Equal(t, []model.Stage{model.StageReport}, h.rec.activated)
}

func TestStageActivatedOncePerRun(t *testing.T) {
	h := newHarness(text("  ", "\n", "- one\n", "- two\n"))
	s := h.seeded(model.PipelineArtifacts{RequirementReport: "r"}, "bot")

	run, err := s.StartStage(model.StageThinking)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, []model.Stage{model.StageThinking}, h.rec.activated)
	assert.Equal(t, []string{"one", "two"}, s.Artifacts().ThinkingPoints)
	assert.Equal(t, []string{"one"}, h.rec.artifacts[0].ThinkingPoints)
}

func TestInterruptDuringAutoStartDelay(t *testing.T) {
	h := newHarness(text("Based on our conversation, I will now generate the requirement report:"))
	waiting := make(chan struct{})
	h.opts.Delay = func(ctx context.Context, d time.Duration) error {
		close(waiting)
		<-ctx.Done()
		return fmt.Errorf("%w: %v", llm.ErrAborted, ctx.Err())
	}
	s := h.session()

	run, err := s.StartChat("I need a code review prompt", nil)
	require.NoError(t, err)
	<-waiting
	// 停顿期间显示进度消息
	turns := s.Turns()
	require.Len(t, turns, 3)
	assert.True(t, turns[2].IsTransient)

	s.Interrupt()
	assert.ErrorIs(t, run.Wait(), llm.ErrAborted)
	assert.Equal(t, 1, h.client.callCount())
	assert.False(t, s.Artifacts().Has(model.StageReport))
	assert.Len(t, s.Turns(), 2)
}

func TestRegenerateReply(t *testing.T) {
	h := newHarness(text("first answer"), text("second answer"))
	s := h.session()

	run, err := s.StartChat("hello", nil)
	require.NoError(t, err)
	require.NoError(t, run.Wait())
	first := s.ValidTurns()[1]

	run, err = s.RegenerateReply(first.ID)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	turns := s.ValidTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, "second answer", turns[1].Content)
	// 重新生成时不把旧回复发给模型
	for _, m := range h.client.call(1) {
		assert.NotEqual(t, "first answer", m.Content)
	}

	_, err = s.RegenerateReply(turns[0].ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegenerateFinalKeepsRepresentation(t *testing.T) {
	h := newHarness(text("新版"))
	arts := fullArtifacts()
	arts.FinalPrompt = model.BilingualPrompt{ZH: "旧版", EN: "old"}
	s := h.seeded(arts, "bot")

	run, err := s.StartStage(model.StageFinal)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, model.BilingualPrompt{ZH: "新版"}, s.Artifacts().FinalPrompt)
}

func TestTranslateFinalPromptPromotesToBilingual(t *testing.T) {
	h := newHarness(text("Hello world"))
	arts := fullArtifacts()
	arts.FinalPrompt = model.PlainPrompt{Content: "你好世界"}
	s := h.seeded(arts, "bot")

	run, err := s.TranslateFinalPrompt(model.LanguageEN)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	assert.Equal(t, model.BilingualPrompt{ZH: "你好世界", EN: "Hello world"}, s.Artifacts().FinalPrompt)
	assert.Equal(t, []bool{false}, h.client.streaming)
	assert.Equal(t, "你好世界", h.client.call(0)[1].Content)

	// 已有译文时直接复用，不再调用模型
	run, err = s.TranslateFinalPrompt(model.LanguageEN)
	require.NoError(t, err)
	require.NoError(t, run.Wait())
	assert.Equal(t, 1, h.client.callCount())
}

func TestTranslateWithoutFinalPrompt(t *testing.T) {
	h := newHarness()
	s := h.seeded(model.PipelineArtifacts{}, "bot")
	_, err := s.TranslateFinalPrompt(model.LanguageEN)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConvertFormatPromotesPlainToMatrix(t *testing.T) {
	h := newHarness()
	arts := fullArtifacts()
	arts.FinalPrompt = model.PlainPrompt{Content: "some text"}
	s := h.seeded(arts, "bot")

	xml, err := s.ConvertFinalPromptFormat(model.FormatXML, model.LanguageZH)
	require.NoError(t, err)
	assert.Equal(t, "<prompt>\n  some text\n</prompt>", xml)
	assert.Equal(t, model.MatrixPrompt{
		Markdown: model.BilingualPrompt{ZH: "some text", EN: ""},
		XML:      model.BilingualPrompt{ZH: xml, EN: ""},
	}, s.Artifacts().FinalPrompt)

	md, err := s.ConvertFinalPromptFormat(model.FormatMarkdown, "")
	require.NoError(t, err)
	assert.Equal(t, "some text", md)

	_, err = s.ConvertFinalPromptFormat(model.FormatXML, model.LanguageEN)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEditPassthroughs(t *testing.T) {
	h := newHarness()
	s := h.seeded(model.PipelineArtifacts{}, "draft")

	s.BeginEdit("u0")
	s.SaveEdit("u0", "edited")
	assert.Equal(t, "edited", s.ValidTurns()[0].Content)

	s.DeleteTurn("u0")
	assert.Empty(t, s.ValidTurns())
	s.RestoreTurn("u0")
	assert.Len(t, s.ValidTurns(), 1)

	s.DeleteTurn("missing")
	assert.Len(t, s.ValidTurns(), 1)
}

type memoryStore struct {
	mu    sync.Mutex
	snaps []model.SessionSnapshot
}

func (m *memoryStore) SaveSnapshot(_ context.Context, snap model.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memoryStore) last() model.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[len(m.snaps)-1]
}

func TestSnapshotPersistedAndRestored(t *testing.T) {
	h := newHarness(text("reply"))
	store := &memoryStore{}
	h.opts.Store = store
	s := h.session()

	run, err := s.StartChat("hello", nil)
	require.NoError(t, err)
	require.NoError(t, run.Wait())

	snap := store.last()
	assert.Len(t, snap.Turns, 2)
	assert.True(t, snap.Status.Idle())

	restored := RestoreSession(snap, h.opts)
	assert.Equal(t, s.ValidTurns(), restored.ValidTurns())
	assert.Equal(t, testSelection, restored.Snapshot().Selection)
	assert.Equal(t, model.StageNone, restored.Status().Stage)
}

func TestNewSessionStartsIdleAtNone(t *testing.T) {
	h := newHarness()
	s := h.session()
	assert.Equal(t, model.IdleStatus(), s.Status())
	assert.Equal(t, model.StageNone, s.Snapshot().Status.Stage)
}
