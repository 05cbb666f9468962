// Package gateway 是后端记录接口的 REST 客户端：创建、查询、下载、删除上传记录，
// 以及提交分析。所有非 2xx 响应都被转换为 apperr.KindGateway。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"osapio-go/pkg/apperr"
	"osapio-go/pkg/log"
)

// 记录状态，与服务端 analysis_status 取值一致。
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Record 是服务端 UploadRecord 的传输形式。列表接口不返回 AnalysisResult。
type Record struct {
	ID             string    `json:"id"`
	UserID         uint      `json:"user_id"`
	FileName       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	ContentType    string    `json:"content_type"`
	FilePath       string    `json:"file_path"`
	Status         string    `json:"analysis_status"`
	AnalysisResult string    `json:"analysis_result,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"upload_timestamp"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateRecordRequest 是登记上传记录的请求体。
type CreateRecordRequest struct {
	FileName    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	FilePath    string `json:"file_path"`
	ContentType string `json:"content_type,omitempty"`
}

// SearchHit 是检索结果中的一条。
type SearchHit struct {
	ID        string    `json:"id"`
	FileName  string    `json:"filename"`
	Snippet   string    `json:"snippet"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"upload_timestamp"`
}

// TokenSource 为每次请求提供 bearer token，identity.Client 满足它。
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// Client 是记录网关客户端。
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// New 创建网关客户端。httpClient 为 nil 时使用 http.DefaultClient。
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

// CreateRecord 登记一次已完成的上传，返回服务端分配的记录 ID。
func (c *Client) CreateRecord(ctx context.Context, in CreateRecordRequest) (string, error) {
	var out struct {
		UploadID string `json:"upload_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload-record", in, &out); err != nil {
		return "", err
	}
	if out.UploadID == "" {
		return "", apperr.Gateway(http.StatusOK, "Upload record was not created")
	}
	return out.UploadID, nil
}

// Analyze 提交文本内容进行分析并返回结果。2xx 但结果为空视为分析不可用。
func (c *Client) Analyze(ctx context.Context, id, fileName, content string) (string, error) {
	var out struct {
		AnalysisResult string `json:"analysis_result"`
	}
	body := map[string]string{"file_content": content, "filename": fileName}
	if err := c.doJSON(ctx, http.MethodPost, "/api/analyze/"+url.PathEscape(id), body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AnalysisResult) == "" {
		return "", apperr.AnalysisUnavailable(errors.New("分析结果为空"))
	}
	return out.AnalysisResult, nil
}

// ListUploads 返回当前用户的记录摘要，按上传时间倒序。
func (c *Client) ListUploads(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := c.doJSON(ctx, http.MethodGet, "/api/my-uploads", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUpload 返回包含分析全文的单条记录。
func (c *Client) GetUpload(ctx context.Context, id string) (*Record, error) {
	var out Record
	if err := c.doJSON(ctx, http.MethodGet, "/api/upload/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRecord 删除记录及其存储对象。
func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/upload-record/"+url.PathEscape(id), nil, nil)
}

// Search 在当前用户已完成的分析中检索。
func (c *Client) Search(ctx context.Context, query string) ([]SearchHit, error) {
	var out []SearchHit
	if err := c.doJSON(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Download 通过后端代理把文件内容写入 w，返回服务端给出的文件名与字节数。
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (string, int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/download/"+url.PathEscape(id), nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	fileName := id
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		fileName = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fileName, n, apperr.GatewayTransport(err)
	}
	return fileName, n, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.GatewayTransport(fmt.Errorf("解析响应失败: %w", err))
	}
	return nil
}

// send 附加 bearer token 并发送请求；非 2xx 时关闭响应体并返回网关错误。
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	tok, err := c.tokens.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("[Gateway] %s %s 请求失败: %v", method, path, err)
		return nil, apperr.GatewayTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		gerr := apperr.FromResponse(resp)
		log.Warnf("[Gateway] %s %s 返回 %d: %s", method, path, resp.StatusCode, gerr.Detail)
		return nil, gerr
	}
	return resp, nil
}
