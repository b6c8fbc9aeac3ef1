package handler

import (
	"fmt"
	"net/http"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/internal/workflow"
	"prompt-forge-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionHandler 处理会话、对话与流水线相关的请求。
// 启动类请求立即返回 202，过程通过 WebSocket 推送；带 ?wait=true 时等待活动结束后返回会话快照。
type SessionHandler struct {
	sessions    service.SessionService
	attachments service.AttachmentService
	library     service.LibraryService
	registry    *registry.Registry
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessions service.SessionService, attachments service.AttachmentService, library service.LibraryService, reg *registry.Registry) *SessionHandler {
	return &SessionHandler{sessions: sessions, attachments: attachments, library: library, registry: reg}
}

// SettingsRequest 是会话设置，省略的字段保持不变。
type SettingsRequest struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
	PromptType string `json:"promptType"`
	Language   string `json:"language"`
}

func (h *SessionHandler) parseSettings(req SettingsRequest) (workflow.Settings, error) {
	var st workflow.Settings
	if req.ProviderID != "" || req.ModelID != "" {
		if err := h.checkSelection(req.ProviderID, req.ModelID); err != nil {
			return st, err
		}
		st.Selection = model.ProviderSelection{ProviderID: req.ProviderID, ModelID: req.ModelID}
	}
	if req.PromptType != "" {
		pt, err := model.ParsePromptType(req.PromptType)
		if err != nil {
			return st, err
		}
		st.PromptType = pt
	}
	if req.Language != "" {
		lang, err := model.ParseLanguage(req.Language)
		if err != nil {
			return st, err
		}
		st.Language = lang
	}
	return st, nil
}

// checkSelection 只校验服务商与模型是否存在，凭据在调用时才解析。
func (h *SessionHandler) checkSelection(providerID, modelID string) error {
	p, ok := h.registry.Provider(providerID)
	if !ok {
		return fmt.Errorf("未知的服务商 %q", providerID)
	}
	for _, m := range p.Models {
		if m.ID == modelID {
			return nil
		}
	}
	return fmt.Errorf("服务商 %s 不提供模型 %q", p.Name, modelID)
}

// session 读取路径中的会话，失败时已写入响应。
func (h *SessionHandler) session(c *gin.Context) (*workflow.Session, bool) {
	sess, err := h.sessions.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return sess, true
}

// accepted 返回启动结果；请求要求等待时阻塞到活动结束。
func accepted(c *gin.Context, sess *workflow.Session, run *workflow.Run) {
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{
			"code":    http.StatusAccepted,
			"message": "accepted",
			"data":    gin.H{"kind": run.Kind()},
		})
		return
	}
	select {
	case <-run.Done():
	case <-c.Request.Context().Done():
		return
	}
	data := gin.H{"kind": run.Kind(), "session": sess.Snapshot()}
	if err := run.Wait(); err != nil {
		data["error"] = err.Error()
	}
	respondOK(c, data)
}

// Create 创建一个会话。
func (h *SessionHandler) Create(c *gin.Context) {
	var req SettingsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
	}
	st, err := h.parseSettings(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), currentUser(c), st)
	if err != nil {
		log.Errorf("CreateSession: error: %v", err)
		respondErr(c, err)
		return
	}
	respondOK(c, sess.Snapshot())
}

// List 返回当前用户的会话列表。
func (h *SessionHandler) List(c *gin.Context) {
	list, err := h.sessions.List(c.Request.Context(), currentUser(c))
	if err != nil {
		log.Errorf("ListSessions: error: %v", err)
		respondErr(c, err)
		return
	}
	respondOK(c, list)
}

// Get 返回会话快照。
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	respondOK(c, sess.Snapshot())
}

// Delete 中断并删除会话。
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, nil)
}

// UpdateSettings 修改服务商、提示词类型与语言。
func (h *SessionHandler) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	st, err := h.parseSettings(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Configure(st); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, sess.Snapshot())
}

// MessageRequest 是一条用户消息。
type MessageRequest struct {
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachmentIds"`
}

// SendMessage 发送用户消息并启动对话。
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	attachments, err := h.attachments.Resolve(c.Request.Context(), currentUser(c), req.AttachmentIDs)
	if err != nil {
		respondErr(c, err)
		return
	}
	run, err := sess.StartChat(req.Content, attachments)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, sess, run)
}

// EditRequest 是编辑后的发言内容。
type EditRequest struct {
	Content string `json:"content" binding:"required"`
}

// BeginEdit 进入编辑状态。
func (h *SessionHandler) BeginEdit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.BeginEdit(c.Param("turnId"))
	respondOK(c, sess.Turns())
}

// SaveEdit 保存编辑内容。
func (h *SessionHandler) SaveEdit(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求负载：内容不能为空")
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.SaveEdit(c.Param("turnId"), req.Content)
	respondOK(c, sess.Turns())
}

// CancelEdit 放弃编辑并恢复原内容。
func (h *SessionHandler) CancelEdit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.CancelEdit(c.Param("turnId"))
	respondOK(c, sess.Turns())
}

// DeleteTurn 软删除一条发言。
func (h *SessionHandler) DeleteTurn(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.DeleteTurn(c.Param("turnId"))
	respondOK(c, sess.Turns())
}

// RestoreTurn 撤销软删除。
func (h *SessionHandler) RestoreTurn(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.RestoreTurn(c.Param("turnId"))
	respondOK(c, sess.Turns())
}

// RegenerateReply 重新生成一条 AI 回复。
func (h *SessionHandler) RegenerateReply(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	run, err := sess.RegenerateReply(c.Param("turnId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, sess, run)
}

// StartWorkflow 依次运行五个生成阶段。
func (h *SessionHandler) StartWorkflow(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	run, err := sess.StartWorkflow()
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, sess, run)
}

// StartStage 单独运行或重新生成一个阶段。
func (h *SessionHandler) StartStage(c *gin.Context) {
	stage, err := model.ParseStage(c.Param("stage"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	run, err := sess.StartStage(stage)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, sess, run)
}

// Interrupt 中断当前活动。
func (h *SessionHandler) Interrupt(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	respondOK(c, gin.H{"interrupted": sess.Interrupt()})
}

// TranslateRequest 指定翻译目标语言。
type TranslateRequest struct {
	Language string `json:"language" binding:"required"`
}

// TranslateFinalPrompt 把最终提示词翻译为目标语言。
func (h *SessionHandler) TranslateFinalPrompt(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求负载：language 不能为空")
		return
	}
	lang, err := model.ParseLanguage(req.Language)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	run, err := sess.TranslateFinalPrompt(lang)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, sess, run)
}

// FormatRequest 指定要查看的格式与语言，语言为空时使用会话语言。
type FormatRequest struct {
	Format   string `json:"format" binding:"required"`
	Language string `json:"language"`
}

// ConvertFinalPromptFormat 返回最终提示词在指定格式与语言下的内容。
func (h *SessionHandler) ConvertFinalPromptFormat(c *gin.Context) {
	var req FormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求负载：format 不能为空")
		return
	}
	format, err := model.ParsePromptFormat(req.Format)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	var lang model.Language
	if req.Language != "" {
		if lang, err = model.ParseLanguage(req.Language); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	text, err := sess.ConvertFinalPromptFormat(format, lang)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"format": format, "content": text})
}

// SaveRequest 是保存到提示词库时的可选标题。
type SaveRequest struct {
	Title string `json:"title"`
}

// SaveToLibrary 把会话成果保存到提示词库。
func (h *SessionHandler) SaveToLibrary(c *gin.Context) {
	var req SaveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := h.library.SaveSession(c.Request.Context(), currentUser(c), sess, req.Title)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, rec)
}
