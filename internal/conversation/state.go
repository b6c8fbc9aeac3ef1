// Package conversation 维护会话中的发言记录。
package conversation

import (
	"prompt-forge-go/internal/model"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State 是有序的发言日志，支持软删除、编辑与临时进度消息。
// 引用不存在的 id 的操作一律静默忽略。
type State struct {
	mu    sync.RWMutex
	turns []model.ConversationTurn
	now   func() time.Time
}

// NewState 创建一个空的会话状态。
func NewState() *State {
	return &State{now: time.Now}
}

func (s *State) find(id string) int {
	for i := range s.turns {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}

// Append 追加一轮发言并返回其 id。
func (s *State) Append(role model.Role, content string, attachments []model.Attachment) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	turn := model.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(attachments) > 0 {
		turn.Attachments = append([]model.Attachment(nil), attachments...)
	}
	s.turns = append(s.turns, turn)
	return turn.ID
}

// UpsertTransient 按哨兵 id 原地更新进度消息，不存在时创建。
func (s *State) UpsertTransient(content, sentinelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if i := s.find(sentinelID); i >= 0 {
		s.turns[i].Content = content
		s.turns[i].UpdatedAt = now
		return
	}
	s.turns = append(s.turns, model.ConversationTurn{
		ID:          sentinelID,
		Role:        model.RoleAssistant,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsTransient: true,
	})
}

// RemoveTransient 删除哨兵 id 对应的进度消息；它从未进入 AI 上下文，无需保留。
func (s *State) RemoveTransient(sentinelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(sentinelID); i >= 0 && s.turns[i].IsTransient {
		s.turns = append(s.turns[:i], s.turns[i+1:]...)
	}
}

// Update 覆盖指定发言的内容与时间戳。
func (s *State) Update(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		s.turns[i].Content = content
		s.turns[i].UpdatedAt = s.now()
	}
}

// SoftDelete 标记删除，记录仍然保留以便撤销。
func (s *State) SoftDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		s.turns[i].IsDeleted = true
	}
}

// Undelete 撤销软删除。
func (s *State) Undelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		s.turns[i].IsDeleted = false
	}
}

// BeginEdit 进入编辑状态并保存编辑前的内容。
func (s *State) BeginEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 || s.turns[i].IsBeingEdited {
		return
	}
	s.turns[i].IsBeingEdited = true
	s.turns[i].OriginalContent = s.turns[i].Content
}

// SaveEdit 保存编辑结果并退出编辑状态。
func (s *State) SaveEdit(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		s.turns[i].Content = content
		s.turns[i].UpdatedAt = s.now()
		s.turns[i].IsBeingEdited = false
		s.turns[i].OriginalContent = ""
	}
}

// CancelEdit 恢复编辑前的内容；不在编辑状态时什么也不做。
func (s *State) CancelEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 || !s.turns[i].IsBeingEdited {
		return
	}
	s.turns[i].Content = s.turns[i].OriginalContent
	s.turns[i].IsBeingEdited = false
	s.turns[i].OriginalContent = ""
}

// ValidTurns 返回未删除、非临时的发言，按创建顺序排列。
// 这是唯一会作为历史发送给模型的视图。
func (s *State) ValidTurns() []model.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationTurn, 0, len(s.turns))
	for _, t := range s.turns {
		if t.IsDeleted || t.IsTransient {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Turns 返回用于展示的发言：排除已删除的，保留临时进度消息。
func (s *State) Turns() []model.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationTurn, 0, len(s.turns))
	for _, t := range s.turns {
		if !t.IsDeleted {
			out = append(out, t.Clone())
		}
	}
	return out
}

// All 返回包括已删除发言在内的完整日志，用于持久化。
func (s *State) All() []model.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationTurn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}

// Turn 按 id 查找发言。
func (s *State) Turn(id string) (model.ConversationTurn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.find(id); i >= 0 {
		return s.turns[i].Clone(), true
	}
	return model.ConversationTurn{}, false
}

// LastAssistant 返回最后一条有效的助手发言。
func (s *State) LastAssistant() (model.ConversationTurn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		t := s.turns[i]
		if t.Role == model.RoleAssistant && !t.IsDeleted && !t.IsTransient {
			return t.Clone(), true
		}
	}
	return model.ConversationTurn{}, false
}

// Restore 用持久化的日志替换当前内容。
func (s *State) Restore(turns []model.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = make([]model.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		s.turns = append(s.turns, t.Clone())
	}
}

// Len 返回日志中的发言数量（含已删除与临时消息）。
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
