// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/internal/workflow"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, workflow.ErrBusy), errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrValidation), errors.Is(err, service.ErrNothingToSave):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrConfiguration), errors.Is(err, service.ErrAttachmentEmpty):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, repository.ErrAttachmentNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondErr(c *gin.Context, err error) {
	respondError(c, statusOf(err), err.Error())
}

// currentUser 返回由 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}
