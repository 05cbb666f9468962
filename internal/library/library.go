// Package library 管理当前用户的上传记录列表：刷新、过滤、查看详情、下载与两步删除。
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"osapio-go/internal/session"
	"osapio-go/pkg/apperr"
	"osapio-go/pkg/gateway"
	"osapio-go/pkg/log"
)

// StatusAll 表示不按状态过滤。
const StatusAll = "all"

var (
	// ErrUnknownRecord 表示请求的记录不在当前列表中。
	ErrUnknownRecord = errors.New("upload is not in the current list")
	// ErrNoPendingDelete 表示没有待确认的删除。
	ErrNoPendingDelete = errors.New("no delete is awaiting confirmation")
)

// SaveFunc 接收下载到临时文件的路径与服务端文件名，返回后临时文件会被删除。
type SaveFunc func(tmpPath, fileName string) error

// Library 缓存最近一次获取的记录列表。
type Library struct {
	sess *session.Session

	mu            sync.Mutex
	records       []gateway.Record
	detail        *gateway.Record
	detailReq     uint64
	pendingDelete string
	message       string
}

// New 创建 Library。
func New(sess *session.Session) *Library {
	return &Library{sess: sess}
}

// Refresh 重新获取当前用户的记录。未登录时列表为空且不返回错误；
// 请求失败时清空列表，避免展示过期的数据。
func (l *Library) Refresh(ctx context.Context) error {
	if _, err := l.sess.Token(ctx); err != nil {
		l.mu.Lock()
		l.records = nil
		l.message = ""
		l.mu.Unlock()
		return nil
	}

	records, err := l.sess.Gateway.ListUploads(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.records = nil
		l.message = fetchMessage(err)
		log.Warnf("[Library] 获取上传列表失败: %v", err)
		return err
	}
	l.records = records
	l.message = ""
	return nil
}

func fetchMessage(err error) string {
	if e, ok := apperr.As(err); ok && e.Unavailable() {
		return "Service temporarily unavailable, please try again later"
	}
	return "Failed to fetch uploads"
}

// Records 返回缓存列表的副本。
func (l *Library) Records() []gateway.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gateway.Record(nil), l.records...)
}

// Message 返回最近一次操作留给用户的提示。
func (l *Library) Message() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.message
}

// Filter 返回文件名包含 query（不区分大小写）且状态等于 status 的记录；
// status 为空或 all 时不按状态过滤。不修改缓存列表。
func (l *Library) Filter(query, status string) []gateway.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterRecords(l.records, query, status)
}

func filterRecords(records []gateway.Record, query, status string) []gateway.Record {
	q := strings.ToLower(query)
	out := make([]gateway.Record, 0, len(records))
	for _, r := range records {
		if !strings.Contains(strings.ToLower(r.FileName), q) {
			continue
		}
		if status != "" && status != StatusAll && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RequestDelete 打开删除确认。
func (l *Library) RequestDelete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if indexOf(l.records, id) < 0 {
		return ErrUnknownRecord
	}
	l.pendingDelete = id
	return nil
}

// PendingDelete 返回等待确认删除的记录 ID。
func (l *Library) PendingDelete() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingDelete
}

// CancelDelete 关闭删除确认。
func (l *Library) CancelDelete() {
	l.mu.Lock()
	l.pendingDelete = ""
	l.mu.Unlock()
}

// ConfirmDelete 删除待确认的记录。成功时从列表移除该记录并关闭其详情；
// 失败时列表与详情保持不变。
func (l *Library) ConfirmDelete(ctx context.Context) error {
	l.mu.Lock()
	id := l.pendingDelete
	l.pendingDelete = ""
	l.mu.Unlock()
	if id == "" {
		return ErrNoPendingDelete
	}

	if err := l.sess.Gateway.DeleteRecord(ctx, id); err != nil {
		l.mu.Lock()
		l.message = apperr.MessageOf(err, "Failed to delete upload")
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindGateway && e.Detail == "" && e.Msg == "" {
			l.message = "Failed to delete upload"
		}
		l.mu.Unlock()
		log.Warnf("[Library] 删除记录失败, id: %s, error: %v", id, err)
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if i := indexOf(l.records, id); i >= 0 {
		l.records = append(l.records[:i:i], l.records[i+1:]...)
	}
	if l.detail != nil && l.detail.ID == id {
		l.detail = nil
	}
	l.message = "Upload deleted successfully"
	log.Infof("[Library] 记录已删除, id: %s", id)
	return nil
}

// ViewDetails 获取完整记录并作为当前详情；并发调用时以最后发起的请求为准。
func (l *Library) ViewDetails(ctx context.Context, id string) (*gateway.Record, error) {
	l.mu.Lock()
	l.detailReq++
	req := l.detailReq
	l.mu.Unlock()

	rec, err := l.sess.Gateway.GetUpload(ctx, id)
	if err != nil {
		l.mu.Lock()
		if req == l.detailReq {
			l.message = apperr.MessageOf(err, "Failed to load upload details")
		}
		l.mu.Unlock()
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if req == l.detailReq {
		l.detail = rec
	}
	return rec, nil
}

// Detail 返回当前打开的详情，没有时返回 nil。
func (l *Library) Detail() *gateway.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detail
}

// CloseDetails 关闭详情。
func (l *Library) CloseDetails() {
	l.mu.Lock()
	l.detail = nil
	l.mu.Unlock()
}

// Download 通过网关代理把文件下载到 dir 下的临时文件，交给 save 处理后删除临时文件。
func (l *Library) Download(ctx context.Context, id, dir string, save SaveFunc) error {
	tmp, err := os.CreateTemp(dir, "osapio-download-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	fileName, n, err := l.sess.Gateway.Download(ctx, id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		l.mu.Lock()
		l.message = apperr.MessageOf(err, "Failed to download file")
		l.mu.Unlock()
		return err
	}
	log.Debugf("[Library] 已下载 %s (%d bytes)", fileName, n)
	return save(tmpPath, fileName)
}

// SaveTo 返回把临时文件复制到 dir/fileName 的 SaveFunc。
func SaveTo(dir string) SaveFunc {
	return func(tmpPath, fileName string) error {
		src, err := os.Open(tmpPath)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.OpenFile(filepath.Join(dir, safeName(fileName)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			return err
		}
		return dst.Close()
	}
}

// safeName 去掉服务端文件名中的路径成分。
func safeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

func indexOf(records []gateway.Record, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// StatusLabel 返回状态徽标文字，未知状态按 Pending 展示。
func StatusLabel(status string) string {
	switch status {
	case gateway.StatusProcessing:
		return "Processing"
	case gateway.StatusCompleted:
		return "Completed"
	case gateway.StatusFailed:
		return "Failed"
	}
	return "Pending"
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize 按 1024 进制格式化字节数，最多保留两位小数。
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizeUnits[i]
}
