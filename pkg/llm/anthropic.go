package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// anthropicBackend 使用官方 anthropic-sdk-go。系统消息合并进 System 字段。
type anthropicBackend struct {
	gen GenerationParams
}

func (b *anthropicBackend) params(messages []Message, target Target) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: inlineAttachments(m, false)})
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(inlineAttachments(m, false))))
		default:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(inlineAttachments(m, true))}
			for _, img := range imagesOf(m) {
				mime := img.MimeType
				if mime == "" {
					mime = "image/png"
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mime, img.Data))
			}
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if b.gen.MaxTokens != nil {
		maxTokens = int64(*b.gen.MaxTokens)
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(target.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
		System:    system,
	}
	if b.gen.Temperature != nil {
		p.Temperature = anthropic.Float(*b.gen.Temperature)
	}
	return p
}

func (b *anthropicBackend) call(ctx context.Context, messages []Message, target Target, stream bool, onChunk ChunkHandler) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(target.APIKey)}
	if target.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(target.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	params := b.params(messages, target)

	if !stream {
		msg, err := client.Messages.New(ctx, params)
		if err != nil {
			return "", anthropicError(target, err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	}

	s := client.Messages.NewStreaming(ctx, params)
	defer s.Close()
	var sb strings.Builder
	for s.Next() {
		event := s.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				sb.WriteString(delta.Text)
				onChunk(delta.Text)
			}
		}
	}
	if err := s.Err(); err != nil {
		return sb.String(), anthropicError(target, err)
	}
	return sb.String(), nil
}

func anthropicError(target Target, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: target.ProviderID, Status: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return err
}
