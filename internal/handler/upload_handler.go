package handler

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/middleware"
	"osapio-go/internal/service"
	"osapio-go/pkg/log"
)

// UploadHandler 负责处理上传记录的增删查与文件下载。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// CreateRecord 在客户端把文件传到对象存储后登记上传记录。
func (h *UploadHandler) CreateRecord(c *gin.Context) {
	var req service.CreateRecordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	userID := middleware.UserID(c)

	record, err := h.uploadService.CreateRecord(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, "CreateRecord", err, "Failed to create upload record")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Upload record created successfully",
		"upload_id": record.ID,
		"user_id":   userID,
	})
}

// ListUploads 返回当前用户的记录摘要，按上传时间倒序。
func (h *UploadHandler) ListUploads(c *gin.Context) {
	records, err := h.uploadService.ListUploads(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, "ListUploads", err, "Failed to fetch uploads")
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetUpload 返回单条完整记录。
func (h *UploadHandler) GetUpload(c *gin.Context) {
	record, err := h.uploadService.GetUpload(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, "GetUpload", err, "Failed to fetch upload")
		return
	}
	c.JSON(http.StatusOK, record)
}

// Download 以代理方式把存储对象流式返回给客户端。
func (h *UploadHandler) Download(c *gin.Context) {
	rc, info, record, err := h.uploadService.OpenDownload(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Download", err, "Failed to download file")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = record.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	log.Infof("[Download] 开始传输文件, id: %s, size: %d", record.ID, info.Size)
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": record.FileName}),
	})
}

// DeleteRecord 删除当前用户的一条记录。
func (h *UploadHandler) DeleteRecord(c *gin.Context) {
	id := c.Param("id")
	if err := h.uploadService.DeleteRecord(c.Request.Context(), middleware.UserID(c), id); err != nil {
		respondError(c, "DeleteRecord", err, "Failed to delete upload")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Upload deleted successfully", "upload_id": id})
}
