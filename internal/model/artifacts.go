package model

import (
	"encoding/json"
	"time"
)

// PipelineArtifacts 保存一次会话中五个阶段的产物。
// 空值表示该阶段尚未生成。
type PipelineArtifacts struct {
	RequirementReport string
	ThinkingPoints    []string
	InitialPrompt     string
	Advice            []string
	FinalPrompt       FinalPrompt
}

// Has 判断指定阶段的产物是否非空。
func (a PipelineArtifacts) Has(stage Stage) bool {
	switch stage {
	case StageReport:
		return a.RequirementReport != ""
	case StageThinking:
		return len(a.ThinkingPoints) > 0
	case StageInitial:
		return a.InitialPrompt != ""
	case StageAdvice:
		return len(a.Advice) > 0
	case StageFinal:
		return a.FinalPrompt != nil && !a.FinalPrompt.IsEmpty()
	}
	return false
}

// Clone 返回不共享切片的深拷贝。FinalPrompt 的各实现都是值类型。
func (a PipelineArtifacts) Clone() PipelineArtifacts {
	c := a
	c.ThinkingPoints = append([]string(nil), a.ThinkingPoints...)
	c.Advice = append([]string(nil), a.Advice...)
	return c
}

type artifactsJSON struct {
	RequirementReport string          `json:"requirementReport"`
	ThinkingPoints    []string        `json:"thinkingPoints"`
	InitialPrompt     string          `json:"initialPrompt"`
	Advice            []string        `json:"advice"`
	FinalPrompt       json.RawMessage `json:"finalPrompt"`
}

// MarshalJSON 实现 json.Marshaler，FinalPrompt 使用带 kind 的编码。
func (a PipelineArtifacts) MarshalJSON() ([]byte, error) {
	fp, err := MarshalFinalPrompt(a.FinalPrompt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifactsJSON{
		RequirementReport: a.RequirementReport,
		ThinkingPoints:    a.ThinkingPoints,
		InitialPrompt:     a.InitialPrompt,
		Advice:            a.Advice,
		FinalPrompt:       fp,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (a *PipelineArtifacts) UnmarshalJSON(data []byte) error {
	var raw artifactsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fp, err := UnmarshalFinalPrompt(raw.FinalPrompt)
	if err != nil {
		return err
	}
	*a = PipelineArtifacts{
		RequirementReport: raw.RequirementReport,
		ThinkingPoints:    raw.ThinkingPoints,
		InitialPrompt:     raw.InitialPrompt,
		Advice:            raw.Advice,
		FinalPrompt:       fp,
	}
	return nil
}

// ProviderSelection 是 (服务商, 模型) 选择，调用时才解析为具体目标。
type ProviderSelection struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}

// SessionStatus 是流水线的运行状态。
type SessionStatus struct {
	Stage        Stage `json:"stage"`
	IsTyping     bool  `json:"isTyping"`
	IsGenerating bool  `json:"isGenerating"`
}

// IdleStatus 返回空闲状态：阶段为 none，既不在回复也不在生成。
func IdleStatus() SessionStatus {
	return SessionStatus{Stage: StageNone}
}

// UnmarshalJSON 实现 json.Unmarshaler，旧快照中的空阶段按 none 处理。
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	type plain SessionStatus
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Stage == "" {
		v.Stage = StageNone
	}
	*s = SessionStatus(v)
	return nil
}

// Idle 判断会话是否空闲。
func (s SessionStatus) Idle() bool {
	return s.Stage == StageNone && !s.IsTyping && !s.IsGenerating
}

// SessionSnapshot 是会话的可持久化快照，存入 Redis 并在重启后恢复。
type SessionSnapshot struct {
	ID         string             `json:"id"`
	UserID     uint               `json:"userId"`
	Title      string             `json:"title"`
	Selection  ProviderSelection  `json:"selection"`
	PromptType PromptType         `json:"promptType"`
	Language   Language           `json:"language"`
	Turns      []ConversationTurn `json:"turns"`
	Artifacts  PipelineArtifacts  `json:"artifacts"`
	Status     SessionStatus      `json:"status"`
	LibraryID  uint               `json:"libraryId,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}
