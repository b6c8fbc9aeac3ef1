// Package tasks 定义了通过 Kafka 传递的任务结构。
package tasks

import "fmt"

// IndexAction 是提示词库索引任务的动作。
type IndexAction string

const (
	ActionUpsert IndexAction = "upsert"
	ActionDelete IndexAction = "delete"
)

// PromptIndexTask 描述一次提示词库记录的索引变更。
// 记录内容不随消息传递，消费端按 RecordID 回表读取最新版本。
type PromptIndexTask struct {
	Action   IndexAction `json:"action"`
	RecordID uint        `json:"record_id"`
	UserID   uint        `json:"user_id"`
	Version  int         `json:"version"`
}

// Key 返回 Kafka 消息键，同一条记录的变更落在同一分区以保证顺序。
func (t PromptIndexTask) Key() string {
	return fmt.Sprintf("prompt-%d", t.RecordID)
}

// AttemptKey 返回 Redis 中该任务失败计数的键。
func (t PromptIndexTask) AttemptKey() string {
	return fmt.Sprintf("kafka:attempts:%s:%d:%d", t.Action, t.RecordID, t.Version)
}
