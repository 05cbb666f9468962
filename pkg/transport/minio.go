// Package transport 把本地文件上传到对象存储，并把 SDK 的错误转换为 apperr 的传输错误。
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/minio/minio-go/v7"

	"osapio-go/internal/config"
	"osapio-go/pkg/apperr"
	"osapio-go/pkg/log"
	"osapio-go/pkg/storage"
)

// ProgressFunc 接收 0-100 的上传进度，仅用于展示。
type ProgressFunc func(percent int)

// MinIO 是基于 minio-go 的上传实现。
type MinIO struct {
	client     *minio.Client
	bucketName string
}

// New 按配置创建上传客户端，不访问网络。
func New(cfg config.MinIOConfig) (*MinIO, error) {
	client, err := storage.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinIO{client: client, bucketName: cfg.BucketName}, nil
}

// Upload 把 r 中 size 字节写入 objectPath，返回对象地址。ctx 取消或超时会中止上传。
func (m *MinIO) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string, onProgress ProgressFunc) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if onProgress != nil {
		opts.Progress = &progressReader{total: size, report: onProgress}
	}
	info, err := m.client.PutObject(ctx, m.bucketName, objectPath, r, size, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		terr := classify(err)
		log.Warnf("[Transport] 上传失败, object: %s, kind: %s, error: %v", objectPath, terr.Sub, err)
		return "", terr
	}
	log.Debugf("[Transport] 上传完成, object: %s, size: %d", info.Key, info.Size)
	return m.PublicAddress(objectPath), nil
}

// PublicAddress 返回对象的访问地址。
func (m *MinIO) PublicAddress(objectPath string) string {
	return storage.Address(m.client.EndpointURL(), m.bucketName, objectPath)
}

// classify 把 SDK 与 context 错误映射为传输错误子类。
func classify(err error) *apperr.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return apperr.Transport(apperr.TransportCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Transport(apperr.TransportTimeout, err)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "AllAccessDisabled", "AccountProblem":
		return apperr.Transport(apperr.TransportUnauthorized, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "MissingSecurityHeader":
		return apperr.Transport(apperr.TransportUnauthenticated, err)
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "XMinioStorageFull", "EntityTooLarge":
		return apperr.Transport(apperr.TransportQuotaExceeded, err)
	case "RequestTimeout", "RequestTimeTooSkewed":
		return apperr.Transport(apperr.TransportTimeout, err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperr.Transport(apperr.TransportUnauthenticated, err)
	case http.StatusForbidden:
		return apperr.Transport(apperr.TransportUnauthorized, err)
	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return apperr.Transport(apperr.TransportQuotaExceeded, err)
	}
	return apperr.Transport(apperr.TransportUnknown, err)
}

// progressReader 作为 PutObjectOptions.Progress，SDK 每读出一段数据就用该段调用 Read。
type progressReader struct {
	mu     sync.Mutex
	total  int64
	sent   int64
	last   int
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	p.sent += int64(len(b))
	pct := 100
	if p.total > 0 && p.sent < p.total {
		pct = int(p.sent * 100 / p.total)
	}
	changed := pct != p.last
	p.last = pct
	p.mu.Unlock()

	if changed {
		p.report(pct)
	}
	return len(b), nil
}
