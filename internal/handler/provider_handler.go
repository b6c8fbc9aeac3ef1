package handler

import (
	"prompt-forge-go/internal/registry"

	"github.com/gin-gonic/gin"
)

// ProviderHandler 返回可选的模型服务商，凭据不会出现在响应中。
type ProviderHandler struct {
	registry *registry.Registry
}

// NewProviderHandler 创建一个新的 ProviderHandler 实例。
func NewProviderHandler(reg *registry.Registry) *ProviderHandler {
	return &ProviderHandler{registry: reg}
}

// List 返回服务商列表与默认选择。
func (h *ProviderHandler) List(c *gin.Context) {
	respondOK(c, gin.H{
		"providers": h.registry.Providers(),
		"default":   h.registry.DefaultSelection(),
	})
}
