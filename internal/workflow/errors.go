package workflow

import (
	"errors"
	"fmt"
	"prompt-forge-go/internal/model"
)

var (
	// ErrBusy 表示已有对话或阶段在运行，同一时刻只允许一个活动。
	ErrBusy = errors.New("another activity is already running")
	// ErrValidation 是前置条件不满足时的错误，只提示警告，不改变任何状态。
	ErrValidation = errors.New("validation failed")
	// ErrEmptyOutput 表示模型返回了空内容。
	ErrEmptyOutput = errors.New("empty model output")
)

// ValidationError 描述一个不满足的前置条件。
type ValidationError struct {
	Stage   model.Stage
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(stage model.Stage, format string, args ...any) error {
	return &ValidationError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// EmptyOutputError 表示某个阶段生成结果为空，顺序流水线会在此中止。
type EmptyOutputError struct {
	Stage model.Stage
}

func (e *EmptyOutputError) Error() string {
	if e.Stage == model.StageNone {
		return "AI 回复为空"
	}
	return fmt.Sprintf("%s生成结果为空", e.Stage.Label())
}

func (e *EmptyOutputError) Is(target error) bool { return target == ErrEmptyOutput }
