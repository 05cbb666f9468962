// Package session 把客户端的身份、网关与传输组合成一个显式传递的会话对象，
// 供上传流程与记录列表共用。
package session

import (
	"context"
	"io"
	"strconv"
	"time"

	"osapio-go/pkg/apperr"
	"osapio-go/pkg/gateway"
	"osapio-go/pkg/identity"
	"osapio-go/pkg/storage"
	"osapio-go/pkg/transport"
)

// Identity 是会话依赖的身份能力，*identity.Client 满足它。
type Identity interface {
	CurrentUser() *identity.User
	BearerToken(ctx context.Context) (string, error)
}

// Gateway 是会话依赖的记录网关能力，*gateway.Client 满足它。
type Gateway interface {
	CreateRecord(ctx context.Context, in gateway.CreateRecordRequest) (string, error)
	Analyze(ctx context.Context, id, fileName, content string) (string, error)
	ListUploads(ctx context.Context) ([]gateway.Record, error)
	GetUpload(ctx context.Context, id string) (*gateway.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	Download(ctx context.Context, id string, w io.Writer) (string, int64, error)
}

// Transport 是会话依赖的上传能力，*transport.MinIO 满足它。
type Transport interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string, onProgress transport.ProgressFunc) (string, error)
}

// Session 持有一个已配置的客户端组合。
type Session struct {
	Identity  Identity
	Gateway   Gateway
	Transport Transport
	Now       func() time.Time
}

// New 创建会话。
func New(id Identity, gw Gateway, tr Transport) *Session {
	return &Session{Identity: id, Gateway: gw, Transport: tr, Now: time.Now}
}

// Token 返回当前 bearer token；未登录或 token 为空时返回 apperr.KindAuth。
func (s *Session) Token(ctx context.Context) (string, error) {
	tok, err := s.Identity.BearerToken(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			return "", err
		}
		return "", apperr.Auth("Authentication failed", err)
	}
	if tok == "" {
		return "", apperr.Auth("Please sign in first", nil)
	}
	return tok, nil
}

// ObjectPath 为当前用户生成 uploads/{ownerId}/{unixMillis}_{filename} 形式的对象路径。
func (s *Session) ObjectPath(fileName string) (string, error) {
	u := s.Identity.CurrentUser()
	if u == nil {
		return "", apperr.Auth("Please sign in first", nil)
	}
	return storage.ObjectPath(strconv.FormatUint(uint64(u.ID), 10), s.Now().UnixMilli(), fileName), nil
}
