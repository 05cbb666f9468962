package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/middleware"
	"osapio-go/internal/model"
	"osapio-go/internal/service"
	"osapio-go/pkg/log"
)

// UserHandler 负责处理注册、登录与个人资料相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest 定义了修改资料 API 的请求体结构。
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// AuthResponse 是注册和登录成功后的响应体。
type AuthResponse struct {
	User *model.User `json:"user"`
	*service.TokenPair
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：邮箱和密码不能为空")
		return
	}

	user, pair, err := h.userService.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		respondError(c, "Register", err, "注册失败")
		return
	}
	c.JSON(http.StatusCreated, AuthResponse{User: user, TokenPair: pair})
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：邮箱和密码不能为空")
		return
	}

	user, pair, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, "Login", err, "登录失败")
		return
	}
	log.Infof("User %d logged in successfully", user.ID)
	c.JSON(http.StatusOK, AuthResponse{User: user, TokenPair: pair})
}

// Logout 处理用户登出请求。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), c.GetString(middleware.ContextToken)); err != nil {
		respondError(c, "Logout", err, "登出失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GetProfile 返回当前用户资料。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.userService.GetProfile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, "GetProfile", err, "获取用户信息失败")
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile 修改当前用户的显示名称。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载：display_name 不能为空")
		return
	}
	user, err := h.userService.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.DisplayName)
	if err != nil {
		respondError(c, "UpdateProfile", err, "更新用户信息失败")
		return
	}
	c.JSON(http.StatusOK, user)
}
