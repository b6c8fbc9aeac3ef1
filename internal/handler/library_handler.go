package handler

import (
	"net/http"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LibraryHandler 处理提示词库的浏览、删除与检索。
type LibraryHandler struct {
	library service.LibraryService
}

// NewLibraryHandler 创建一个新的 LibraryHandler 实例。
func NewLibraryHandler(library service.LibraryService) *LibraryHandler {
	return &LibraryHandler{library: library}
}

func recordID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "无效的记录 id")
		return 0, false
	}
	return uint(id), true
}

// List 分页返回提示词库记录。
func (h *LibraryHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	recs, total, err := h.library.List(currentUser(c), page, size)
	if err != nil {
		log.Errorf("ListLibrary: error: %v", err)
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"content": recs, "total": total, "page": page})
}

// Get 返回一条记录的完整内容。
func (h *LibraryHandler) Get(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	detail, err := h.library.Get(currentUser(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, detail)
}

// Delete 删除一条记录。
func (h *LibraryHandler) Delete(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	if err := h.library.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, nil)
}

// Search 在提示词库中全文检索。
func (h *LibraryHandler) Search(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.library.Search(c.Request.Context(), currentUser(c), c.Query("q"), size)
	if err != nil {
		log.Errorf("SearchLibrary: error: %v", err)
		respondErr(c, err)
		return
	}
	respondOK(c, hits)
}
