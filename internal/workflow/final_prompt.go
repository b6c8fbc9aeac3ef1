package workflow

import (
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/markup"
	"strings"
)

// translationSource 返回翻译为 target 时使用的原文；目标版本已存在时 cached 为 true。
func translationSource(fp model.FinalPrompt, target model.Language) (src string, cached bool) {
	switch v := fp.(type) {
	case model.BilingualPrompt:
		if v.Get(target) != "" {
			return v.Get(target), true
		}
		return v.Get(target.Other()), false
	case model.MatrixPrompt:
		if v.Markdown.Get(target) != "" {
			return v.Markdown.Get(target), true
		}
		return v.Markdown.Get(target.Other()), false
	}
	return "", false
}

// TranslateFinalPrompt 把最终提示词翻译为 target 语言。
// 纯文本表示会先升级为双语表示，原文放在会话语言一栏；目标语言版本已存在时直接复用。
func (s *Session) TranslateFinalPrompt(target model.Language) (*Run, error) {
	var (
		llmTarget llm.Target
		src       string
		cached    bool
		uiLang    model.Language
	)
	r, err := s.begin(RunTranslate, func() error {
		if !s.artifacts.Has(model.StageFinal) {
			return validationf(model.StageFinal, "请先生成最终提示词")
		}
		promoted := model.PromoteToBilingual(s.artifacts.FinalPrompt, s.language)
		src, cached = translationSource(promoted, target)
		if src == "" {
			return validationf(model.StageFinal, "没有可供翻译的原文")
		}
		uiLang = s.language
		if cached {
			s.artifacts.FinalPrompt = promoted
			return nil
		}
		var err error
		llmTarget, err = s.resolveLocked()
		return err
	})
	if err != nil {
		return nil, s.reject(err)
	}

	s.launch(r, func(r *Run) (string, error) {
		if cached {
			s.opts.Observer.ArtifactsChanged(s.id, s.Artifacts())
			return "", nil
		}
		s.setStatus(r, model.SessionStatus{Stage: model.StageNone, IsGenerating: true})
		text, err := s.opts.Client.Call(r.ctx, translateMessages(uiLang, target, src), llmTarget, false, nil)
		if err != nil {
			return "", err
		}
		text = cleanText(text)
		if text == "" {
			return "", &EmptyOutputError{Stage: model.StageFinal}
		}
		var arts model.PipelineArtifacts
		ok := s.guard(r, func() {
			switch v := model.PromoteToBilingual(s.artifacts.FinalPrompt, s.language).(type) {
			case model.BilingualPrompt:
				s.artifacts.FinalPrompt = v.With(target, text)
			case model.MatrixPrompt:
				s.artifacts.FinalPrompt = v.With(model.FormatMarkdown, target, text)
			}
			arts = s.artifacts.Clone()
		})
		if ok {
			s.opts.Observer.ArtifactsChanged(s.id, arts)
		}
		return "翻译完成", nil
	})
	return r, nil
}

// ConvertFinalPromptFormat 返回最终提示词在指定格式与语言下的版本。
// 表示会升级为格式×语言矩阵；markdown 转 xml 是确定性的结构转换，结果缓存在矩阵中。
// lang 为空时使用会话语言。
func (s *Session) ConvertFinalPromptFormat(format model.PromptFormat, lang model.Language) (string, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrBusy
	}
	if lang == "" {
		lang = s.language
	}
	if !s.artifacts.Has(model.StageFinal) {
		s.mu.Unlock()
		return "", s.reject(validationf(model.StageFinal, "请先生成最终提示词"))
	}
	m := model.PromoteToMatrix(s.artifacts.FinalPrompt, s.language)
	text := m.Get(format, lang)
	if text == "" && format == model.FormatXML {
		if md := m.Markdown.Get(lang); strings.TrimSpace(md) != "" {
			text = markup.ToXML(md)
			m = m.With(model.FormatXML, lang, text)
		}
	}
	if text == "" {
		s.mu.Unlock()
		return "", s.reject(validationf(model.StageFinal, "该语言版本尚未生成，请先翻译"))
	}
	s.artifacts.FinalPrompt = m
	arts := s.artifacts.Clone()
	s.mu.Unlock()

	s.opts.Observer.ArtifactsChanged(s.id, arts)
	s.persist()
	return text, nil
}
