package workflow

import (
	"context"
	"fmt"
	"prompt-forge-go/pkg/llm"
	"time"
)

// RunKind 标识一次活动的类型。
type RunKind string

const (
	RunChat      RunKind = "chat"
	RunReply     RunKind = "regenerate-reply"
	RunWorkflow  RunKind = "workflow"
	RunStage     RunKind = "stage"
	RunTranslate RunKind = "translate"
)

// Run 是一次后台活动的句柄。
type Run struct {
	id     uint64
	kind   RunKind
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Kind 返回活动类型。
func (r *Run) Kind() RunKind { return r.kind }

// Done 在活动结束时关闭。
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait 阻塞直到活动结束，返回最终错误；被中断时返回 llm.ErrAborted。
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// sleepCtx 是可被中断的停顿。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", llm.ErrAborted, ctx.Err())
	case <-t.C:
		return nil
	}
}
