package model

import (
	"encoding/json"
	"fmt"
)

// FinalPromptKind 标识最终提示词当前的表示形式。
type FinalPromptKind string

const (
	KindPlain     FinalPromptKind = "plain"
	KindBilingual FinalPromptKind = "bilingual"
	KindMatrix    FinalPromptKind = "matrix"
)

// FinalPrompt 是最终提示词的三种表示：纯文本、中英双语、格式×语言矩阵。
// 表示形式只会按 plain -> bilingual -> matrix 的方向升级，永不降级。
type FinalPrompt interface {
	Kind() FinalPromptKind
	// Text 返回指定格式与语言的内容；纯文本忽略参数。
	Text(format PromptFormat, lang Language) string
	IsEmpty() bool
	finalPrompt()
}

// PlainPrompt 是刚生成、尚未翻译或转换的最终提示词。
type PlainPrompt struct {
	Content string `json:"text"`
}

func (PlainPrompt) Kind() FinalPromptKind { return KindPlain }
func (PlainPrompt) finalPrompt()          {}

func (p PlainPrompt) Text(PromptFormat, Language) string { return p.Content }
func (p PlainPrompt) IsEmpty() bool                      { return p.Content == "" }

// BilingualPrompt 保存中英两个版本。
type BilingualPrompt struct {
	ZH string `json:"zh"`
	EN string `json:"en"`
}

func (BilingualPrompt) Kind() FinalPromptKind { return KindBilingual }
func (BilingualPrompt) finalPrompt()          {}

func (b BilingualPrompt) Text(_ PromptFormat, lang Language) string { return b.Get(lang) }
func (b BilingualPrompt) IsEmpty() bool                             { return b.ZH == "" && b.EN == "" }

// Get 返回指定语言的版本。
func (b BilingualPrompt) Get(lang Language) string {
	if lang == LanguageEN {
		return b.EN
	}
	return b.ZH
}

// With 返回替换了指定语言版本的副本。
func (b BilingualPrompt) With(lang Language, text string) BilingualPrompt {
	if lang == LanguageEN {
		b.EN = text
	} else {
		b.ZH = text
	}
	return b
}

// MatrixPrompt 按 {markdown, xml} × {zh, en} 缓存各个版本。
type MatrixPrompt struct {
	Markdown BilingualPrompt `json:"markdown"`
	XML      BilingualPrompt `json:"xml"`
}

func (MatrixPrompt) Kind() FinalPromptKind { return KindMatrix }
func (MatrixPrompt) finalPrompt()          {}

func (m MatrixPrompt) Text(format PromptFormat, lang Language) string { return m.Get(format, lang) }
func (m MatrixPrompt) IsEmpty() bool                                  { return m.Markdown.IsEmpty() && m.XML.IsEmpty() }

// Get 返回指定格式与语言的版本。
func (m MatrixPrompt) Get(format PromptFormat, lang Language) string {
	if format == FormatXML {
		return m.XML.Get(lang)
	}
	return m.Markdown.Get(lang)
}

// With 返回替换了指定单元格的副本。
func (m MatrixPrompt) With(format PromptFormat, lang Language, text string) MatrixPrompt {
	if format == FormatXML {
		m.XML = m.XML.With(lang, text)
	} else {
		m.Markdown = m.Markdown.With(lang, text)
	}
	return m
}

// PromoteToBilingual 将纯文本升级为双语表示，原文放在 source 语言一栏。
// 已经是双语或矩阵时原样返回。
func PromoteToBilingual(p FinalPrompt, source Language) FinalPrompt {
	switch v := p.(type) {
	case nil:
		return BilingualPrompt{}
	case PlainPrompt:
		return BilingualPrompt{}.With(source, v.Content)
	default:
		return p
	}
}

// PromoteToMatrix 将任意表示升级为格式×语言矩阵，已有内容放入 markdown 一行。
func PromoteToMatrix(p FinalPrompt, source Language) MatrixPrompt {
	switch v := PromoteToBilingual(p, source).(type) {
	case BilingualPrompt:
		return MatrixPrompt{Markdown: v}
	case MatrixPrompt:
		return v
	}
	return MatrixPrompt{}
}

// ReplacePrimary 在重新生成时写入新内容：保持表示形式不变，
// 新内容写入 markdown/lang 单元格，其余单元格因已过期而清空。
func ReplacePrimary(p FinalPrompt, lang Language, text string) FinalPrompt {
	switch p.(type) {
	case BilingualPrompt:
		return BilingualPrompt{}.With(lang, text)
	case MatrixPrompt:
		return MatrixPrompt{}.With(FormatMarkdown, lang, text)
	default:
		return PlainPrompt{Content: text}
	}
}

type finalPromptEnvelope struct {
	Kind     FinalPromptKind  `json:"kind"`
	Text     string           `json:"text,omitempty"`
	ZH       string           `json:"zh,omitempty"`
	EN       string           `json:"en,omitempty"`
	Markdown *BilingualPrompt `json:"markdown,omitempty"`
	XML      *BilingualPrompt `json:"xml,omitempty"`
}

// MarshalFinalPrompt 以带 kind 标签的 JSON 编码最终提示词，nil 编码为 null。
func MarshalFinalPrompt(p FinalPrompt) ([]byte, error) {
	var env finalPromptEnvelope
	switch v := p.(type) {
	case nil:
		return []byte("null"), nil
	case PlainPrompt:
		env = finalPromptEnvelope{Kind: KindPlain, Text: v.Content}
	case BilingualPrompt:
		env = finalPromptEnvelope{Kind: KindBilingual, ZH: v.ZH, EN: v.EN}
	case MatrixPrompt:
		md, xml := v.Markdown, v.XML
		env = finalPromptEnvelope{Kind: KindMatrix, Markdown: &md, XML: &xml}
	default:
		return nil, fmt.Errorf("unknown final prompt type %T", p)
	}
	return json.Marshal(env)
}

// UnmarshalFinalPrompt 解码 MarshalFinalPrompt 的输出。
func UnmarshalFinalPrompt(data []byte) (FinalPrompt, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env finalPromptEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindPlain:
		return PlainPrompt{Content: env.Text}, nil
	case KindBilingual:
		return BilingualPrompt{ZH: env.ZH, EN: env.EN}, nil
	case KindMatrix:
		var m MatrixPrompt
		if env.Markdown != nil {
			m.Markdown = *env.Markdown
		}
		if env.XML != nil {
			m.XML = *env.XML
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown final prompt kind %q", env.Kind)
}
