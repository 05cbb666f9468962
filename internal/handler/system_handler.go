package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"osapio-go/pkg/log"
)

// SystemHandler 提供根路径与健康检查。
type SystemHandler struct {
	ping func(ctx context.Context) error
}

// NewSystemHandler 创建 SystemHandler，ping 用于检查数据库连接。
func NewSystemHandler(ping func(ctx context.Context) error) *SystemHandler {
	return &SystemHandler{ping: ping}
}

// Root 返回服务说明。
func (h *SystemHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "osapio API - Authentication enabled"})
}

// Health 检查数据库连接，不可用时返回 503。
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			log.Warnf("[Health] 数据库不可用: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unavailable", "timestamp": now})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected", "timestamp": now})
}
