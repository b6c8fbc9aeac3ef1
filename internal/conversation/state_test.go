package conversation

import (
	"fmt"
	"math/rand"
	"prompt-forge-go/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndValidTurns(t *testing.T) {
	s := NewState()
	u := s.Append(model.RoleUser, "Build me a customer support bot", nil)
	a := s.Append(model.RoleAssistant, "Who are the users?", nil)
	s.UpsertTransient("正在生成需求报告...", "progress")

	valid := s.ValidTurns()
	require.Len(t, valid, 2)
	assert.Equal(t, u, valid[0].ID)
	assert.Equal(t, a, valid[1].ID)
	assert.Len(t, s.Turns(), 3)
}

func TestUpsertTransientCoalesces(t *testing.T) {
	s := NewState()
	s.UpsertTransient("step 1", "progress")
	s.UpsertTransient("step 2", "progress")

	assert.Equal(t, 1, s.Len())
	turn, ok := s.Turn("progress")
	require.True(t, ok)
	assert.Equal(t, "step 2", turn.Content)
	assert.True(t, turn.IsTransient)

	s.RemoveTransient("progress")
	assert.Equal(t, 0, s.Len())
}

func TestSoftDeleteRetainsTurn(t *testing.T) {
	s := NewState()
	id := s.Append(model.RoleUser, "hello", nil)
	s.SoftDelete(id)

	assert.Empty(t, s.ValidTurns())
	assert.Empty(t, s.Turns())
	require.Len(t, s.All(), 1)
	assert.True(t, s.All()[0].IsDeleted)

	s.Undelete(id)
	assert.Len(t, s.ValidTurns(), 1)
}

func TestEditLifecycle(t *testing.T) {
	s := NewState()
	id := s.Append(model.RoleUser, "draft", nil)

	s.BeginEdit(id)
	turn, _ := s.Turn(id)
	assert.True(t, turn.IsBeingEdited)
	assert.Equal(t, "draft", turn.OriginalContent)

	s.Update(id, "typing...")
	s.CancelEdit(id)
	turn, _ = s.Turn(id)
	assert.Equal(t, "draft", turn.Content)
	assert.False(t, turn.IsBeingEdited)
	assert.Empty(t, turn.OriginalContent)

	s.BeginEdit(id)
	s.SaveEdit(id, "final")
	turn, _ = s.Turn(id)
	assert.Equal(t, "final", turn.Content)
	assert.False(t, turn.IsBeingEdited)

	// 不在编辑状态时取消编辑是空操作
	s.CancelEdit(id)
	turn, _ = s.Turn(id)
	assert.Equal(t, "final", turn.Content)
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	s := NewState()
	s.Append(model.RoleUser, "x", nil)
	assert.NotPanics(t, func() {
		s.Update("missing", "y")
		s.SoftDelete("missing")
		s.Undelete("missing")
		s.BeginEdit("missing")
		s.SaveEdit("missing", "y")
		s.CancelEdit("missing")
		s.RemoveTransient("missing")
	})
	require.Len(t, s.ValidTurns(), 1)
	assert.Equal(t, "x", s.ValidTurns()[0].Content)
}

func TestAttachmentsAreCopied(t *testing.T) {
	s := NewState()
	atts := []model.Attachment{{ID: "a1", Name: "notes.txt", Type: "text", Data: "hi"}}
	id := s.Append(model.RoleUser, "see file", atts)
	atts[0].Name = "changed"

	turn, _ := s.Turn(id)
	assert.Equal(t, "notes.txt", turn.Attachments[0].Name)
}

func TestValidTurnsNeverContainDeletedOrTransient(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	s := NewState()
	var ids []string
	for i := 0; i < 500; i++ {
		switch r.Intn(4) {
		case 0:
			ids = append(ids, s.Append(model.RoleUser, fmt.Sprint(i), nil))
		case 1:
			s.UpsertTransient(fmt.Sprint(i), fmt.Sprintf("sentinel-%d", r.Intn(3)))
		case 2:
			if len(ids) > 0 {
				s.SoftDelete(ids[r.Intn(len(ids))])
			}
		case 3:
			if len(ids) > 0 {
				s.Undelete(ids[r.Intn(len(ids))])
			}
		}
		for _, turn := range s.ValidTurns() {
			require.False(t, turn.IsDeleted)
			require.False(t, turn.IsTransient)
		}
	}
}

func TestRestore(t *testing.T) {
	s := NewState()
	s.Append(model.RoleUser, "a", nil)
	saved := s.All()

	other := NewState()
	other.Restore(saved)
	assert.Equal(t, saved, other.All())
}

func TestLastAssistant(t *testing.T) {
	s := NewState()
	_, ok := s.LastAssistant()
	assert.False(t, ok)

	first := s.Append(model.RoleAssistant, "first", nil)
	second := s.Append(model.RoleAssistant, "second", nil)
	s.UpsertTransient("progress", "progress")

	turn, ok := s.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, second, turn.ID)

	s.SoftDelete(second)
	turn, _ = s.LastAssistant()
	assert.Equal(t, first, turn.ID)
}
