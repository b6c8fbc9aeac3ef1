// Package workflow 实现提示词生成流水线：引导对话、五个生成阶段的编排、中断与错误恢复。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"prompt-forge-go/internal/conversation"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/trigger"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	titleMaxRunes  = 40
	persistTimeout = 3 * time.Second
)

// Options 是会话依赖的协作者与行为参数。
type Options struct {
	Client   llm.Client
	Resolver Resolver
	Notifier Notifier
	Observer Observer
	Store    SnapshotStore
	Detector *trigger.Detector
	// AutoStartDelay 是 AI 决定生成需求报告后、自动启动流水线前的停顿，只影响界面节奏。
	AutoStartDelay time.Duration
	Streaming      bool
	// Delay 用于实现上面的停顿，为空时使用可中断的计时器。
	Delay func(ctx context.Context, d time.Duration) error
}

func (o *Options) fill() {
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Detector == nil {
		o.Detector = trigger.NewDetector(nil, nil)
	}
	if o.Delay == nil {
		o.Delay = sleepCtx
	}
}

// Settings 是会话的可调整参数，零值字段表示不修改。
type Settings struct {
	Selection  model.ProviderSelection
	PromptType model.PromptType
	Language   model.Language
}

// Session 是唯一持有会话状态的服务对象：发言记录、流水线产物与运行状态。
// 所有修改都通过它的方法完成；同一时刻最多只有一个活动（对话或阶段）在运行。
type Session struct {
	id     string
	userID uint
	opts   Options
	conv   *conversation.State

	mu         sync.Mutex
	title      string
	artifacts  model.PipelineArtifacts
	status     model.SessionStatus
	selection  model.ProviderSelection
	promptType model.PromptType
	language   model.Language
	libraryID  uint
	createdAt  time.Time
	updatedAt  time.Time
	active     *Run
	seq        uint64
}

// NewSession 创建一个空会话。
func NewSession(id string, userID uint, settings Settings, opts Options) *Session {
	opts.fill()
	now := time.Now()
	s := &Session{
		id:         id,
		userID:     userID,
		opts:       opts,
		conv:       conversation.NewState(),
		selection:  settings.Selection,
		promptType: settings.PromptType,
		language:   settings.Language,
		status:     model.IdleStatus(),
		createdAt:  now,
		updatedAt:  now,
	}
	if s.promptType == "" {
		s.promptType = model.PromptTypeSystem
	}
	if s.language == "" {
		s.language = model.LanguageZH
	}
	return s
}

// RestoreSession 从快照恢复会话。进程重启后没有活动在运行，状态一律置为空闲。
func RestoreSession(snap model.SessionSnapshot, opts Options) *Session {
	s := NewSession(snap.ID, snap.UserID, Settings{
		Selection:  snap.Selection,
		PromptType: snap.PromptType,
		Language:   snap.Language,
	}, opts)
	s.title = snap.Title
	s.artifacts = snap.Artifacts.Clone()
	s.libraryID = snap.LibraryID
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	var turns []model.ConversationTurn
	for _, t := range snap.Turns {
		if !t.IsTransient {
			turns = append(turns, t)
		}
	}
	s.conv.Restore(turns)
	return s
}

// ID 返回会话 id。
func (s *Session) ID() string { return s.id }

// UserID 返回会话所属用户。
func (s *Session) UserID() uint { return s.userID }

// Status 返回当前运行状态。
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Busy 判断是否有活动在运行。
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Artifacts 返回产物副本。
func (s *Session) Artifacts() model.PipelineArtifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts.Clone()
}

// Turns 返回用于展示的发言。
func (s *Session) Turns() []model.ConversationTurn {
	return s.conv.Turns()
}

// ValidTurns 返回发送给模型的有效发言。
func (s *Session) ValidTurns() []model.ConversationTurn {
	return s.conv.ValidTurns()
}

// Snapshot 返回可持久化的会话快照。
func (s *Session) Snapshot() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.SessionSnapshot {
	return model.SessionSnapshot{
		ID:         s.id,
		UserID:     s.userID,
		Title:      s.title,
		Selection:  s.selection,
		PromptType: s.promptType,
		Language:   s.language,
		Turns:      s.conv.All(),
		Artifacts:  s.artifacts.Clone(),
		Status:     s.status,
		LibraryID:  s.libraryID,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// SetLibraryID 记录会话对应的提示词库记录，之后的保存会更新同一条记录。
func (s *Session) SetLibraryID(id uint) {
	s.mu.Lock()
	s.libraryID = id
	s.mu.Unlock()
	s.persist()
}

// Configure 修改服务商选择、提示词类型与语言。运行中不允许修改。
func (s *Session) Configure(st Settings) error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	if st.Selection.ProviderID != "" {
		s.selection = st.Selection
	}
	if st.PromptType != "" {
		s.promptType = st.PromptType
	}
	if st.Language != "" {
		s.language = st.Language
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.persist()
	return nil
}

// ---- 活动生命周期 ----

// begin 在锁内检查忙碌状态与前置条件，通过后登记新的活动。
func (s *Session) begin(kind RunKind, check func() error) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		log.Warnf("[Workflow] 会话 %s 正忙，拒绝新的 %s 请求", s.id, kind)
		return nil, ErrBusy
	}
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.seq++
	r := &Run{id: s.seq, kind: kind, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.active = r
	return r, nil
}

// reject 把同步校验失败转换为提示消息。
func (s *Session) reject(err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, registry.ErrConfiguration) {
		s.opts.Notifier.Notify(s.id, NoticeWarning, err.Error())
	}
	return err
}

func (s *Session) launch(r *Run, fn func(r *Run) (string, error)) {
	go func() {
		success, err := fn(r)
		s.finish(r, success, err)
	}()
}

// finish 结束活动：无论成功、失败还是中断，状态都会回到空闲。
func (s *Session) finish(r *Run, success string, err error) {
	s.mu.Lock()
	current := s.active == r
	if current {
		s.active = nil
		s.status = model.IdleStatus()
		s.updatedAt = time.Now()
	}
	s.mu.Unlock()
	r.cancel()

	if _, ok := s.conv.Turn(s.progressID(r)); ok {
		s.conv.RemoveTransient(s.progressID(r))
		s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())
	}
	if current {
		s.opts.Observer.StatusChanged(s.id, model.IdleStatus())
		s.persist()
	}

	switch {
	case err == nil:
		if success != "" && current {
			s.opts.Notifier.Notify(s.id, NoticeSuccess, success)
		}
	case errors.Is(err, llm.ErrAborted) || !current:
		log.Infof("[Workflow] 会话 %s 的 %s 已中断", s.id, r.kind)
	case errors.Is(err, ErrValidation) || errors.Is(err, registry.ErrConfiguration):
		s.opts.Notifier.Notify(s.id, NoticeWarning, err.Error())
	default:
		log.Errorf("[Workflow] 会话 %s 的 %s 失败: %v", s.id, r.kind, err)
		s.opts.Notifier.Notify(s.id, NoticeError, err.Error())
	}

	r.err = err
	close(r.done)
}

// guard 仅在 r 仍是当前活动时执行写入；被中断或被取代的活动的写入会被丢弃。
func (s *Session) guard(r *Run, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != r {
		return false
	}
	fn()
	s.updatedAt = time.Now()
	return true
}

func (s *Session) setStatus(r *Run, st model.SessionStatus) {
	if s.guard(r, func() { s.status = st }) {
		s.opts.Observer.StatusChanged(s.id, st)
	}
}

// Interrupt 中断当前活动，并无条件把 isTyping、isGenerating 与阶段重置为空闲。
// 返回是否有活动被中断。
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	r := s.active
	s.active = nil
	s.status = model.IdleStatus()
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if r != nil {
		r.cancel()
		log.Infof("[Workflow] 会话 %s 收到中断指令", s.id)
	}
	s.opts.Observer.StatusChanged(s.id, model.IdleStatus())
	s.persist()
	return r != nil
}

func (s *Session) persist() {
	if s.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.opts.Store.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		log.Warnf("[Workflow] 保存会话 %s 快照失败: %v", s.id, err)
	}
}

func (s *Session) resolveLocked() (llm.Target, error) {
	if s.opts.Resolver == nil {
		return llm.Target{}, fmt.Errorf("%w: 未配置模型服务商", registry.ErrConfiguration)
	}
	return s.opts.Resolver.Resolve(s.selection)
}

func (s *Session) inputLocked() stageInput {
	return stageInput{
		lang:       s.language,
		promptType: s.promptType,
		turns:      s.conv.ValidTurns(),
		artifacts:  s.artifacts.Clone(),
	}
}

func (s *Session) input() stageInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputLocked()
}

// ---- 对话 ----

// StartChat 追加用户发言。包含强制生成关键词时直接运行完整流水线，
// 否则流式生成引导回复；回复中出现决策短语时，停顿片刻后自动运行流水线。
func (s *Session) StartChat(content string, attachments []model.Attachment) (*Run, error) {
	content = strings.TrimSpace(content)
	var target llm.Target
	r, err := s.begin(RunChat, func() error {
		if content == "" && len(attachments) == 0 {
			return validationf(model.StageNone, "消息内容不能为空")
		}
		var err error
		target, err = s.resolveLocked()
		if err != nil {
			return err
		}
		if s.title == "" {
			s.title = titleFrom(content)
		}
		s.conv.Append(model.RoleUser, content, attachments)
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}
	s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())

	force := s.opts.Detector.CheckForceGenerate(content)
	s.launch(r, func(r *Run) (string, error) {
		if force {
			log.Infof("[Workflow] 会话 %s 检测到强制生成关键词", s.id)
			return s.runWorkflow(r, target)
		}
		return s.replyThenAdvance(r, target)
	})
	return r, nil
}

// RegenerateReply 软删除一条助手回复，并基于剩余的有效历史重新生成。
func (s *Session) RegenerateReply(turnID string) (*Run, error) {
	var target llm.Target
	r, err := s.begin(RunReply, func() error {
		t, ok := s.conv.Turn(turnID)
		if !ok || t.Role != model.RoleAssistant || t.IsDeleted || t.IsTransient {
			return validationf(model.StageNone, "只能重新生成助手的回复")
		}
		var err error
		target, err = s.resolveLocked()
		if err != nil {
			return err
		}
		s.conv.SoftDelete(turnID)
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}
	s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())
	s.launch(r, func(r *Run) (string, error) {
		return s.replyThenAdvance(r, target)
	})
	return r, nil
}

func (s *Session) replyThenAdvance(r *Run, target llm.Target) (string, error) {
	raw, err := s.reply(r, target)
	if err != nil {
		return "", err
	}
	if !s.opts.Detector.CheckAIDecision(raw) {
		return "", nil
	}

	log.Infof("[Workflow] 会话 %s 的 AI 回复包含决策短语，准备自动生成", s.id)
	s.setStatus(r, model.SessionStatus{Stage: model.StageNone, IsGenerating: true})
	s.showProgress(r, model.StageReport)
	if err := s.opts.Delay(r.ctx, s.opts.AutoStartDelay); err != nil {
		return "", err
	}
	return s.runWorkflow(r, target)
}

// reply 把引导回复流式写入一条新的助手发言，返回未经清理的完整文本。
func (s *Session) reply(r *Run, target llm.Target) (string, error) {
	s.setStatus(r, model.SessionStatus{Stage: model.StageNone, IsTyping: true})

	s.mu.Lock()
	lang, pt := s.language, s.promptType
	s.mu.Unlock()
	phrase := s.opts.Detector.DecisionPhrase(lang == model.LanguageEN)
	msgs := guidanceMessages(lang, pt, phrase, s.conv.ValidTurns())

	turnID := ""
	write := func(text string) {
		cleaned := cleanText(text)
		if cleaned == "" {
			return
		}
		ok := s.guard(r, func() {
			if turnID == "" {
				turnID = s.conv.Append(model.RoleAssistant, cleaned, nil)
			} else {
				s.conv.Update(turnID, cleaned)
			}
		})
		if ok {
			s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())
		}
	}

	var acc strings.Builder
	text, err := s.opts.Client.Call(r.ctx, msgs, target, s.opts.Streaming, func(chunk string) {
		acc.WriteString(chunk)
		write(acc.String())
	})
	if err != nil {
		return "", err
	}
	if cleanText(text) == "" {
		return "", &EmptyOutputError{Stage: model.StageNone}
	}
	write(text)
	return text, nil
}

// ---- 流水线 ----

// StartWorkflow 从需求报告开始顺序运行全部五个阶段，任一阶段失败即中止。
func (s *Session) StartWorkflow() (*Run, error) {
	var target llm.Target
	r, err := s.begin(RunWorkflow, func() error {
		if err := s.inputLocked().validate(model.StageReport); err != nil {
			return err
		}
		var err error
		target, err = s.resolveLocked()
		return err
	})
	if err != nil {
		return nil, s.reject(err)
	}
	s.launch(r, func(r *Run) (string, error) {
		return s.runWorkflow(r, target)
	})
	return r, nil
}

// StartStage 手动运行或重新生成单个阶段。不会级联：下游产物保持原样，直到用户再次触发。
// 上游产物缺失时只提示警告，不改变任何状态。
func (s *Session) StartStage(stage model.Stage) (*Run, error) {
	if stage == model.StageNone {
		return nil, s.reject(validationf(stage, "未知的生成阶段"))
	}
	var target llm.Target
	var in stageInput
	r, err := s.begin(RunStage, func() error {
		in = s.inputLocked()
		if err := in.validate(stage); err != nil {
			return err
		}
		var err error
		target, err = s.resolveLocked()
		return err
	})
	if err != nil {
		return nil, s.reject(err)
	}
	s.launch(r, func(r *Run) (string, error) {
		if err := s.runStage(r, target, stage, in.messages(stage)); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s已生成", stage.Label()), nil
	})
	return r, nil
}

func (s *Session) runWorkflow(r *Run, target llm.Target) (string, error) {
	for _, stage := range model.Stages() {
		in := s.input()
		if err := in.validate(stage); err != nil {
			return "", err
		}
		s.showProgress(r, stage)
		if err := s.runStage(r, target, stage, in.messages(stage)); err != nil {
			return "", err
		}
	}
	return "提示词生成完成", nil
}

func (s *Session) progressID(r *Run) string {
	return fmt.Sprintf("progress-%s-%d", s.id, r.id)
}

func (s *Session) showProgress(r *Run, stage model.Stage) {
	s.mu.Lock()
	lang := s.language
	s.mu.Unlock()
	if s.guard(r, func() { s.conv.UpsertTransient(progressText(lang, stage), s.progressID(r)) }) {
		s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())
	}
}

func titleFrom(content string) string {
	content = strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	return string([]rune(content)[:titleMaxRunes]) + "…"
}
