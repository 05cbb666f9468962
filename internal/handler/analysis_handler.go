package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"osapio-go/internal/middleware"
	"osapio-go/internal/model"
	"osapio-go/internal/service"
	"osapio-go/pkg/llm"
	"osapio-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 来源由 CORS 与 token 控制
	},
}

// StreamRunner 读取已存储的文件并流式分析，*pipeline.Processor 满足它。
type StreamRunner interface {
	Stream(ctx context.Context, userID uint, id string, writer llm.MessageWriter) (*model.UploadRecord, error)
}

// AnalysisHandler 负责触发文档分析。
type AnalysisHandler struct {
	analysisService service.AnalysisService
	streamer        StreamRunner
}

// NewAnalysisHandler 创建一个新的 AnalysisHandler 实例。
func NewAnalysisHandler(analysisService service.AnalysisService, streamer StreamRunner) *AnalysisHandler {
	return &AnalysisHandler{analysisService: analysisService, streamer: streamer}
}

// Analyze 同步分析并返回结果；?async=true 时投递到队列并立即返回 202。
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req service.AnalyzeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	id := c.Param("id")
	userID := middleware.UserID(c)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		record, err := h.analysisService.Enqueue(c.Request.Context(), userID, id, req)
		if err != nil {
			respondError(c, "Analyze", err, "Failed to queue analysis")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"upload_id": record.ID, "status": record.Status})
		return
	}

	record, err := h.analysisService.Analyze(c.Request.Context(), userID, id, req)
	if err != nil {
		respondError(c, "Analyze", err, "Analysis failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis_result": record.AnalysisResult})
}

// streamFrame 是 WebSocket 上的控制帧，正文分块以纯文本帧发送。
type streamFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	UploadID  string `json:"upload_id"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Stream 把存储的文件分析结果逐块推送到 WebSocket。
func (h *AnalysisHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	userID := middleware.UserID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立, 用户: %d, 记录: %s", userID, id)

	// 客户端断开时取消分析
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frame := streamFrame{Type: "completion", Status: "finished", UploadID: id}
	if _, err := h.streamer.Stream(ctx, userID, id, conn); err != nil {
		status, detail := errorStatus(err)
		if detail == "" {
			detail = "Analysis failed"
		}
		if errors.Is(err, context.Canceled) {
			log.Infof("WebSocket 客户端已断开, 记录: %s", id)
			return
		}
		log.Errorf("流式分析失败, 记录: %s, status: %d, error: %v", id, status, err)
		frame = streamFrame{Type: "error", Status: strconv.Itoa(status), UploadID: id, Detail: detail}
	}
	frame.Timestamp = time.Now().UnixMilli()
	b, _ := json.Marshal(frame)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
