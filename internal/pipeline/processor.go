// Package pipeline 定义了提示词库的异步索引流程：Kafka 任务 -> MySQL 回表 -> Elasticsearch。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/es"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/tasks"

	"gorm.io/gorm"
)

// RecordLoader 按 id 读取提示词库记录。
type RecordLoader interface {
	FindByID(id uint) (*model.PromptRecord, error)
}

// DocumentIndex 是索引文档的写入端。
type DocumentIndex interface {
	Upsert(ctx context.Context, doc model.PromptDocument) error
	Delete(ctx context.Context, recordID uint) error
}

// Processor 消费索引任务，使 Elasticsearch 与 MySQL 中的提示词库保持一致。
type Processor struct {
	records RecordLoader
	index   DocumentIndex
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(records RecordLoader, index DocumentIndex) *Processor {
	return &Processor{records: records, index: index}
}

// Process 处理一条索引任务。
func (p *Processor) Process(ctx context.Context, task tasks.PromptIndexTask) error {
	log.Infof("[Processor] 开始处理索引任务, action: %s, record: %d, version: %d", task.Action, task.RecordID, task.Version)

	switch task.Action {
	case tasks.ActionDelete:
		if err := p.index.Delete(ctx, task.RecordID); err != nil {
			return fmt.Errorf("删除索引文档失败: %w", err)
		}
		return nil
	case tasks.ActionUpsert:
	default:
		log.Warnf("[Processor] 未知的任务类型 '%s'，忽略", task.Action)
		return nil
	}

	// 1. 回表读取最新记录，消息里的版本号只用于日志
	rec, err := p.records.FindByID(task.RecordID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 记录已被删除，删除任务会清理索引
		log.Infof("[Processor] 记录 %d 已不存在，跳过", task.RecordID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取提示词记录失败: %w", err)
	}
	if rec.Version > task.Version {
		log.Debugf("[Processor] 记录 %d 已更新到版本 %d，按最新版本索引", rec.ID, rec.Version)
	}

	// 2. 写入 Elasticsearch
	doc := es.NewDocument(rec, rec.FinalPromptText())
	if err := p.index.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("写入索引文档失败: %w", err)
	}
	log.Infof("[Processor] 记录 %d (v%d) 索引完成", rec.ID, rec.Version)
	return nil
}
