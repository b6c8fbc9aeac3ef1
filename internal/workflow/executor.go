package workflow

import (
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/sanitize"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/log"
	"strings"
)

func cleanText(raw string) string {
	return sanitize.Clean(raw)
}

// setArtifactLocked 写入阶段产物。列表阶段每次都从累计的原始文本重新拆分。
func (s *Session) setArtifactLocked(stage model.Stage, value string) {
	a := &s.artifacts
	switch stage {
	case model.StageReport:
		a.RequirementReport = value
	case model.StageThinking:
		a.ThinkingPoints = s.parseList(stage, value)
	case model.StageInitial:
		a.InitialPrompt = value
	case model.StageAdvice:
		a.Advice = s.parseList(stage, value)
	case model.StageFinal:
		a.FinalPrompt = model.ReplacePrimary(a.FinalPrompt, s.language, value)
	}
}

func (s *Session) parseList(stage model.Stage, value string) []string {
	items, err := sanitize.SplitList(value)
	if err != nil {
		log.Debugf("[Workflow] 会话 %s 的%s无法拆分为列表，按单条处理: %v", s.id, stage.Label(), err)
		return []string{value}
	}
	return items
}

// runStage 是五个阶段共用的流式执行器。
//
// 第一段非空内容到达时调用一次 StageActivated，并直接写入内容，不先写占位值；之后每段内容都对累计文本做清理，
// 文本阶段整体覆盖、列表阶段重新拆分，写入后通知 ArtifactsChanged。
// 非流式调用只在结束时写入一次完整结果。
func (s *Session) runStage(r *Run, target llm.Target, stage model.Stage, msgs []llm.Message) error {
	s.setStatus(r, model.SessionStatus{Stage: stage, IsGenerating: true})

	activated := false
	activate := func() {
		if activated {
			return
		}
		activated = true
		s.opts.Observer.StageActivated(s.id, stage)
	}
	apply := func(raw string) {
		value := cleanText(raw)
		if value == "" {
			return
		}
		var arts model.PipelineArtifacts
		ok := s.guard(r, func() {
			s.setArtifactLocked(stage, value)
			arts = s.artifacts.Clone()
		})
		if ok {
			s.opts.Observer.ArtifactsChanged(s.id, arts)
		}
	}

	var acc strings.Builder
	onChunk := func(chunk string) {
		acc.WriteString(chunk)
		raw := acc.String()
		if strings.TrimSpace(raw) == "" || r.ctx.Err() != nil {
			return
		}
		activate()
		apply(raw)
	}

	text, err := s.opts.Client.Call(r.ctx, msgs, target, s.opts.Streaming, onChunk)
	if err != nil {
		return err
	}
	if cleanText(text) == "" {
		return &EmptyOutputError{Stage: stage}
	}
	activate()
	apply(text)
	log.Infof("[Workflow] 会话 %s 的%s生成完成", s.id, stage.Label())
	return nil
}
