package pipeline

import (
	"context"
	"errors"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/tasks"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubRecords map[uint]*model.PromptRecord

func (s stubRecords) FindByID(id uint) (*model.PromptRecord, error) {
	if rec, ok := s[id]; ok {
		return rec, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type memoryIndex struct {
	docs    map[uint]model.PromptDocument
	failing bool
}

func (m *memoryIndex) Upsert(_ context.Context, doc model.PromptDocument) error {
	if m.failing {
		return errors.New("es down")
	}
	if m.docs == nil {
		m.docs = map[uint]model.PromptDocument{}
	}
	m.docs[doc.RecordID] = doc
	return nil
}

func (m *memoryIndex) Delete(_ context.Context, id uint) error {
	delete(m.docs, id)
	return nil
}

func record(t *testing.T) *model.PromptRecord {
	rec := &model.PromptRecord{ID: 4, UserID: 1, Title: "翻译助手", Language: "zh", Version: 2}
	require.NoError(t, rec.SetContent(model.PipelineArtifacts{
		RequirementReport: "report",
		FinalPrompt:       model.PlainPrompt{Content: "你是翻译"},
	}, nil))
	return rec
}

func TestProcessUpsertIndexesLatestRecord(t *testing.T) {
	idx := &memoryIndex{}
	p := NewProcessor(stubRecords{4: record(t)}, idx)

	require.NoError(t, p.Process(context.Background(), tasks.PromptIndexTask{Action: tasks.ActionUpsert, RecordID: 4, Version: 1}))

	doc := idx.docs[4]
	assert.Equal(t, "你是翻译", doc.FinalPrompt)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "report", doc.Report)
}

func TestProcessSkipsDeletedRecord(t *testing.T) {
	idx := &memoryIndex{}
	p := NewProcessor(stubRecords{}, idx)
	assert.NoError(t, p.Process(context.Background(), tasks.PromptIndexTask{Action: tasks.ActionUpsert, RecordID: 9}))
	assert.Empty(t, idx.docs)
}

func TestProcessDeleteAndFailures(t *testing.T) {
	idx := &memoryIndex{docs: map[uint]model.PromptDocument{4: {RecordID: 4}}}
	p := NewProcessor(stubRecords{4: record(t)}, idx)

	require.NoError(t, p.Process(context.Background(), tasks.PromptIndexTask{Action: tasks.ActionDelete, RecordID: 4}))
	assert.Empty(t, idx.docs)

	idx.failing = true
	assert.Error(t, p.Process(context.Background(), tasks.PromptIndexTask{Action: tasks.ActionUpsert, RecordID: 4}))
}
