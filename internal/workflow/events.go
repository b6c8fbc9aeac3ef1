package workflow

import (
	"context"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/llm"
)

// NoticeLevel 是提示消息的级别。
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notifier 向用户展示提示消息，发出即忘。
type Notifier interface {
	Notify(sessionID string, level NoticeLevel, message string)
}

// Observer 接收会话状态变化。回调在会话锁之外调用，参数都是副本。
type Observer interface {
	// StageActivated 在每次阶段运行收到第一段非空内容时调用一次。
	StageActivated(sessionID string, stage model.Stage)
	// ArtifactsChanged 在产物每次写入后调用，界面据此滚动到底部。
	ArtifactsChanged(sessionID string, artifacts model.PipelineArtifacts)
	TurnsChanged(sessionID string, turns []model.ConversationTurn)
	StatusChanged(sessionID string, status model.SessionStatus)
}

// Resolver 把 (服务商, 模型) 选择解析为调用目标。
type Resolver interface {
	Resolve(sel model.ProviderSelection) (llm.Target, error)
}

// SnapshotStore 持久化会话快照。
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, NoticeLevel, string) {}

type nopObserver struct{}

func (nopObserver) StageActivated(string, model.Stage)               {}
func (nopObserver) ArtifactsChanged(string, model.PipelineArtifacts) {}
func (nopObserver) TurnsChanged(string, []model.ConversationTurn)    {}
func (nopObserver) StatusChanged(string, model.SessionStatus)        {}
