package handler

import (
	"net/http"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AttachmentHandler 处理附件上传。
type AttachmentHandler struct {
	attachments service.AttachmentService
}

// NewAttachmentHandler 创建一个新的 AttachmentHandler 实例。
func NewAttachmentHandler(attachments service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments}
}

// Upload 接收 multipart 表单中的 file 字段，返回附件描述符。
func (h *AttachmentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "缺少文件")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "无法读取文件")
		return
	}
	defer file.Close()

	att, err := h.attachments.Upload(c.Request.Context(), currentUser(c), fileHeader.Filename, file)
	if err != nil {
		log.Warnf("UploadAttachment: file '%s', error: %v", fileHeader.Filename, err)
		respondErr(c, err)
		return
	}
	respondOK(c, att)
}

// DownloadURL 返回附件原件的限时下载链接。
func (h *AttachmentHandler) DownloadURL(c *gin.Context) {
	url, err := h.attachments.DownloadURL(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"url": url})
}
