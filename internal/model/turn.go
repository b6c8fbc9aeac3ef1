// Package model 包含了应用的数据模型定义。
package model

import "time"

// Role 是对话轮次的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment 是附件子系统产出的描述符，核心逻辑只转发、不修改。
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // image | text | file
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     string `json:"data"` // 图片为 base64，文本为原文
}

// IsImage 判断附件是否为图片。
func (a Attachment) IsImage() bool {
	return a.Type == "image"
}

// ConversationTurn 代表会话中的一轮发言。
// IsBeingEdited 与 OriginalContent 成对出现：只有编辑期间 OriginalContent 才有意义。
type ConversationTurn struct {
	ID              string       `json:"id"`
	Role            Role         `json:"role"`
	Content         string       `json:"content"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	IsTransient     bool         `json:"isTransient,omitempty"`
	IsDeleted       bool         `json:"isDeleted,omitempty"`
	IsBeingEdited   bool         `json:"isBeingEdited,omitempty"`
	OriginalContent string       `json:"originalContent,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Clone 返回一份不与原对象共享附件切片的副本。
func (t ConversationTurn) Clone() ConversationTurn {
	c := t
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	return c
}
