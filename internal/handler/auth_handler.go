package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/service"
	"osapio-go/pkg/log"
)

// AuthHandler 负责处理 token 刷新请求。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求，旧的 refresh token 随之作废。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("RefreshToken: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：refresh_token 不能为空")
		return
	}

	pair, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, "RefreshToken", err, "刷新 token 失败")
		return
	}
	log.Info("Token refreshed successfully")
	c.JSON(http.StatusOK, pair)
}
