package llm

import (
	"context"
	"fmt"
	"strings"
)

// mockBackend 是离线回显后端，便于无密钥时本地联调。它不支持流式，
// 流式调用时把完整文本作为唯一分块回调一次。
type mockBackend struct{}

func (mockBackend) call(ctx context.Context, messages []Message, target Target, stream bool, onChunk ChunkHandler) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = inlineAttachments(messages[i], false)
			break
		}
	}
	text := fmt.Sprintf("[%s] %s", target.Model, strings.TrimSpace(last))
	if stream && onChunk != nil {
		onChunk(text)
	}
	return text, nil
}
