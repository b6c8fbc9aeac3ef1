// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/model"
	"strings"
	"time"
)

// 服务商类型，对应配置中 providers[].type。
const (
	TypeOpenAICompatible = "openai-compatible"
	TypeOpenAI           = "openai"
	TypeAnthropic        = "anthropic"
	TypeMock             = "mock"
)

var (
	// ErrAborted 表示调用被用户中断（context 被取消）。
	ErrAborted = errors.New("llm call aborted")
	// ErrProviderCall 表示服务商调用失败，具体信息见 *ProviderError。
	ErrProviderCall = errors.New("llm provider call failed")
)

// ProviderError 携带服务商返回的原始错误信息。
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrProviderCall) 对所有 ProviderError 成立。
func (e *ProviderError) Is(target error) bool { return target == ErrProviderCall }

// Message 表示一条角色消息。附件按后端能力转换为图片分片或内联文本。
type Message struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"-"`
}

// ChunkHandler 接收流式分块，按到达顺序调用。
type ChunkHandler func(chunk string)

// Target 是一次调用解析后的具体目标。
type Target struct {
	ProviderID   string
	ProviderType string
	Model        string
	APIKey       string
	BaseURL      string
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// GenerationFromConfig 从配置中读取非零的生成参数。
func GenerationFromConfig(cfg config.LLMGenerationConfig) GenerationParams {
	var gen GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gen.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gen.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gen.MaxTokens = &m
	}
	return gen
}

// Client defines the interface for an LLM client.
type Client interface {
	// Call 发送消息并返回完整回复。
	// streaming 为 true 且 onChunk 非空时逐块回调；不支持流式的后端只回调一次完整文本。
	// streaming 为 false 时不回调。
	Call(ctx context.Context, messages []Message, target Target, streaming bool, onChunk ChunkHandler) (string, error)
}

// backend 是单一服务商类型的实现。
type backend interface {
	call(ctx context.Context, messages []Message, target Target, stream bool, onChunk ChunkHandler) (string, error)
}

type router struct {
	backends map[string]backend
	timeout  time.Duration
}

// NewClient 创建按服务商类型分发的客户端。
func NewClient(cfg config.LLMConfig) Client {
	gen := GenerationFromConfig(cfg.Generation)
	return &router{
		backends: map[string]backend{
			TypeOpenAICompatible: &compatibleBackend{gen: gen, client: &http.Client{}},
			TypeOpenAI:           &openAIBackend{gen: gen},
			TypeAnthropic:        &anthropicBackend{gen: gen},
			TypeMock:             &mockBackend{},
		},
		timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}
}

func (r *router) Call(ctx context.Context, messages []Message, target Target, streaming bool, onChunk ChunkHandler) (string, error) {
	b, ok := r.backends[target.ProviderType]
	if !ok {
		return "", &ProviderError{Provider: target.ProviderID, Message: fmt.Sprintf("unsupported provider type %q", target.ProviderType)}
	}
	stream := streaming && onChunk != nil
	callCtx := ctx
	if !stream && r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if !stream {
		onChunk = nil
	}

	text, err := b.call(callCtx, messages, target, stream, onChunk)
	if err != nil {
		return text, classify(ctx, target, err)
	}
	return text, nil
}

// classify 把后端错误归为中断或服务商错误。
func classify(ctx context.Context, target Target, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if errors.Is(err, ErrProviderCall) || errors.Is(err, ErrAborted) {
		return err
	}
	return &ProviderError{Provider: target.ProviderID, Message: err.Error(), Err: err}
}

// inlineAttachments 把文本附件拼进正文；withImages 为 false 时图片也以文字标记代替。
func inlineAttachments(m Message, withImages bool) string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, a := range m.Attachments {
		switch {
		case a.IsImage() && withImages:
			continue
		case a.IsImage():
			fmt.Fprintf(&sb, "\n\n[图片附件: %s]", a.Name)
		case a.Type == "text":
			fmt.Fprintf(&sb, "\n\n附件 %s:\n```\n%s\n```", a.Name, a.Data)
		default:
			fmt.Fprintf(&sb, "\n\n[附件: %s]", a.Name)
		}
	}
	return sb.String()
}

func imagesOf(m Message) []model.Attachment {
	var out []model.Attachment
	for _, a := range m.Attachments {
		if a.IsImage() && a.Data != "" {
			out = append(out, a)
		}
	}
	return out
}

func dataURL(a model.Attachment) string {
	mime := a.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + a.Data
}
