package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/middleware"
	"osapio-go/internal/service"
	"osapio-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 在当前用户已完成的分析中检索。
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		badRequest(c, "无效的查询参数")
		return
	}
	log.Infof("[SearchHandler] 收到搜索请求, query: %s", query)

	results, err := h.searchService.Search(c.Request.Context(), middleware.UserID(c), query)
	if err != nil {
		respondError(c, "Search", err, "搜索失败")
		return
	}
	c.JSON(http.StatusOK, results)
}
