package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// PromptRecord 是提示词库中的一条记录，每次更新版本号加一。
// 列表类产物与最终提示词以 JSON 文本存储。
type PromptRecord struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             uint      `gorm:"index;not null" json:"userId"`
	SessionID          string    `gorm:"type:varchar(64);index" json:"sessionId"`
	Title              string    `gorm:"type:varchar(255);not null" json:"title"`
	PromptType         string    `gorm:"type:varchar(16);not null" json:"promptType"`
	Language           string    `gorm:"type:varchar(8);not null" json:"language"`
	RequirementReport  string    `gorm:"type:longtext" json:"requirementReport"`
	ThinkingPointsJSON string    `gorm:"type:text;column:thinking_points" json:"-"`
	InitialPrompt      string    `gorm:"type:longtext" json:"initialPrompt"`
	AdviceJSON         string    `gorm:"type:text;column:advice" json:"-"`
	FinalPromptJSON    string    `gorm:"type:longtext;column:final_prompt" json:"-"`
	HistoryJSON        string    `gorm:"type:longtext;column:history" json:"-"`
	Version            int       `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PromptRecord) TableName() string {
	return "prompt_records"
}

// PromptDocument 是写入 Elasticsearch 的提示词库文档。
type PromptDocument struct {
	RecordID    uint      `json:"record_id"`
	UserID      uint      `json:"user_id"`
	Title       string    `json:"title"`
	PromptType  string    `json:"prompt_type"`
	Language    string    `json:"language"`
	Report      string    `json:"report"`
	FinalPrompt string    `json:"final_prompt"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Vector 只在配置了 Embedding 模型时写入。
	Vector []float32 `json:"vector,omitempty"`
}

// PromptSearchHit 是提示词库搜索返回给前端的结果。
type PromptSearchHit struct {
	RecordID   uint      `json:"recordId"`
	Title      string    `json:"title"`
	PromptType string    `json:"promptType"`
	Snippet    string    `json:"snippet"`
	Version    int       `json:"version"`
	Score      float64   `json:"score"`
	UpdatedAt  LocalTime `json:"updatedAt"`
}

// SetContent 把流水线产物与发言记录编码写入记录。
func (r *PromptRecord) SetContent(a PipelineArtifacts, history []ConversationTurn) error {
	thinking, err := json.Marshal(a.ThinkingPoints)
	if err != nil {
		return err
	}
	advice, err := json.Marshal(a.Advice)
	if err != nil {
		return err
	}
	final, err := MarshalFinalPrompt(a.FinalPrompt)
	if err != nil {
		return err
	}
	turns, err := json.Marshal(history)
	if err != nil {
		return err
	}
	r.RequirementReport = a.RequirementReport
	r.InitialPrompt = a.InitialPrompt
	r.ThinkingPointsJSON = string(thinking)
	r.AdviceJSON = string(advice)
	r.FinalPromptJSON = string(final)
	r.HistoryJSON = string(turns)
	return nil
}

// Artifacts 解码记录中保存的流水线产物。
func (r PromptRecord) Artifacts() (PipelineArtifacts, error) {
	a := PipelineArtifacts{
		RequirementReport: r.RequirementReport,
		InitialPrompt:     r.InitialPrompt,
	}
	if err := unmarshalOptional(r.ThinkingPointsJSON, &a.ThinkingPoints); err != nil {
		return a, fmt.Errorf("decode thinking points: %w", err)
	}
	if err := unmarshalOptional(r.AdviceJSON, &a.Advice); err != nil {
		return a, fmt.Errorf("decode advice: %w", err)
	}
	fp, err := UnmarshalFinalPrompt([]byte(r.FinalPromptJSON))
	if err != nil {
		return a, fmt.Errorf("decode final prompt: %w", err)
	}
	a.FinalPrompt = fp
	return a, nil
}

// History 解码记录中保存的发言记录。
func (r PromptRecord) History() ([]ConversationTurn, error) {
	var turns []ConversationTurn
	err := unmarshalOptional(r.HistoryJSON, &turns)
	return turns, err
}

// FinalPromptText 返回用于检索与摘要的最终提示词文本：记录语言的 markdown 版本，缺失时取另一种语言。
func (r PromptRecord) FinalPromptText() string {
	fp, err := UnmarshalFinalPrompt([]byte(r.FinalPromptJSON))
	if err != nil || fp == nil {
		return ""
	}
	lang := Language(r.Language)
	if text := fp.Text(FormatMarkdown, lang); text != "" {
		return text
	}
	return fp.Text(FormatMarkdown, lang.Other())
}

func unmarshalOptional(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// PromptRecordDetail 是提示词库记录的完整视图。
type PromptRecordDetail struct {
	PromptRecord
	Content PipelineArtifacts  `json:"artifacts"`
	Turns   []ConversationTurn `json:"history"`
}
