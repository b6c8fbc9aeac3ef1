package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIBackend 使用官方 openai-go SDK。
type openAIBackend struct {
	gen GenerationParams
}

func (b *openAIBackend) params(messages []Message, target Target) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(inlineAttachments(m, false)))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(inlineAttachments(m, false)))
		default:
			images := imagesOf(m)
			if len(images) == 0 {
				msgs = append(msgs, openai.UserMessage(inlineAttachments(m, false)))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(inlineAttachments(m, true))}
			for _, img := range images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL(img)}))
			}
			msgs = append(msgs, openai.UserMessage(parts))
		}
	}

	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(target.Model),
		Messages: msgs,
	}
	if b.gen.Temperature != nil {
		p.Temperature = openai.Float(*b.gen.Temperature)
	}
	if b.gen.TopP != nil {
		p.TopP = openai.Float(*b.gen.TopP)
	}
	if b.gen.MaxTokens != nil {
		p.MaxTokens = openai.Int(int64(*b.gen.MaxTokens))
	}
	return p
}

func (b *openAIBackend) call(ctx context.Context, messages []Message, target Target, stream bool, onChunk ChunkHandler) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(target.APIKey)}
	if target.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(target.BaseURL))
	}
	client := openai.NewClient(opts...)
	params := b.params(messages, target)

	if !stream {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", openAIError(target, err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	}

	s := client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()
	var sb strings.Builder
	for s.Next() {
		evt := s.Current()
		if len(evt.Choices) == 0 {
			continue
		}
		if content := evt.Choices[0].Delta.Content; content != "" {
			sb.WriteString(content)
			onChunk(content)
		}
	}
	if err := s.Err(); err != nil {
		return sb.String(), openAIError(target, err)
	}
	return sb.String(), nil
}

func openAIError(target Target, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: target.ProviderID, Status: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return err
}
