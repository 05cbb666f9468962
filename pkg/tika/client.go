// Package tika 通过 Apache Tika 服务器提取 PDF、Office 等文档的纯文本。
package tika

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"osapio-go/internal/config"
	"osapio-go/pkg/log"
)

// maxResponseBytes 限制读取的提取结果，分析只使用前 50000 个字符。
const maxResponseBytes = 4 << 20

// Client 是 Tika 服务器的客户端，实现 extract.Extractor。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建 Tika 客户端。
func NewClient(cfg config.TikaConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExtractText 把文件 PUT 到 /tika，返回去除首尾空白的纯文本。
func (c *Client) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", r)
	if err != nil {
		return "", fmt.Errorf("创建 Tika 请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain; charset=utf-8")
	req.Header.Set("Content-Type", detectMimeType(fileName))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	log.Debugf("[Tika] %s 提取完成, %d bytes, 耗时 %s", fileName, len(body), time.Since(start))
	return strings.TrimSpace(string(body)), nil
}

// detectMimeType 按扩展名推断 Content-Type，未知时让 Tika 自行探测。
func detectMimeType(fileName string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); t != "" {
		return t
	}
	return "application/octet-stream"
}
