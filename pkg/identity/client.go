// Package identity 是客户端的身份服务封装：注册、登录、登出，
// 以及为每次请求提供未过期的 bearer token。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"osapio-go/pkg/apperr"
	"osapio-go/pkg/log"
)

// refreshLeeway 内即将过期的 access token 会被提前刷新。
const refreshLeeway = 30 * time.Second

// User 是当前登录用户的公开信息。
type User struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type authResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Client 与后端的 /api/auth 接口交互，并通过 TokenStore 持久化会话。
type Client struct {
	baseURL string
	http    *http.Client
	store   TokenStore
	now     func() time.Time

	mu  sync.Mutex
	cur *Credentials
}

// New 创建身份客户端，并从 store 中恢复之前的会话。
func New(baseURL string, store TokenStore, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		store:   store,
		now:     time.Now,
	}
	cur, err := store.Load()
	if err != nil {
		return nil, err
	}
	c.cur = cur
	return c, nil
}

// CurrentUser 返回当前用户，未登录时返回 nil。
func (c *Client) CurrentUser() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	u := c.cur.User
	return &u
}

// SignUp 使用邮箱和密码注册并登录。
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	return c.authenticate(ctx, "/api/auth/register", map[string]string{
		"email": email, "password": password, "display_name": displayName,
	})
}

// SignIn 使用邮箱和密码登录。
func (c *Client) SignIn(ctx context.Context, email, password string) (*User, error) {
	return c.authenticate(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) authenticate(ctx context.Context, path string, body map[string]string) (*User, error) {
	var resp authResponse
	if err := c.post(ctx, path, "", body, &resp); err != nil {
		return nil, authError(err)
	}
	if resp.User == nil || resp.AccessToken == "" {
		return nil, apperr.Auth("Authentication failed", errors.New("响应中缺少用户或 token"))
	}
	creds := &Credentials{User: *resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := c.setCredentials(creds); err != nil {
		return nil, err
	}
	log.Infof("[Identity] 登录成功, user: %s", resp.User.Email)
	return resp.User, nil
}

// SignOut 通知后端作废 access token 并清除本地会话。后端不可达时仍会清除本地会话。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return nil
	}
	if err := c.post(ctx, "/api/auth/logout", cur.AccessToken, nil, nil); err != nil {
		log.Warnf("[Identity] 后端登出失败, 仅清除本地会话: %v", err)
	}
	return c.setCredentials(nil)
}

// BearerToken 返回可用的 access token，必要时使用 refresh token 换取新的 token。
// 未登录或刷新失败时返回 apperr.KindAuth。
func (c *Client) BearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil || cur.AccessToken == "" {
		return "", apperr.Auth("Please sign in first", nil)
	}
	if !c.expiring(cur.AccessToken) {
		return cur.AccessToken, nil
	}
	if cur.RefreshToken == "" || c.expiring(cur.RefreshToken) {
		_ = c.setCredentials(nil)
		return "", apperr.Auth("Your session has expired, please sign in again", nil)
	}

	var pair authResponse
	if err := c.post(ctx, "/api/auth/refreshToken", "", map[string]string{"refresh_token": cur.RefreshToken}, &pair); err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindGateway && e.Status == http.StatusUnauthorized {
			_ = c.setCredentials(nil)
		}
		return "", apperr.Auth("Your session has expired, please sign in again", err)
	}
	if pair.AccessToken == "" {
		return "", apperr.Auth("Your session has expired, please sign in again", errors.New("刷新响应缺少 access_token"))
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = cur.RefreshToken
	}
	next := &Credentials{User: cur.User, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if err := c.setCredentials(next); err != nil {
		return "", err
	}
	log.Debugf("[Identity] access token 已刷新")
	return next.AccessToken, nil
}

// expiring 只读取 exp，不校验签名；签名由后端校验。
func (c *Client) expiring(tok string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(c.now().Add(refreshLeeway))
}

func (c *Client) setCredentials(creds *Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if creds == nil {
		err = c.store.Clear()
	} else {
		err = c.store.Save(creds)
	}
	if err != nil {
		return fmt.Errorf("保存会话失败: %w", err)
	}
	c.cur = creds
	return nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.GatewayTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.FromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// authError 把 4xx 转换为认证错误，其余（网络、5xx）保持网关错误。
func authError(err error) error {
	e, ok := apperr.As(err)
	if ok && e.Kind == apperr.KindGateway && e.Status >= 400 && e.Status < 500 {
		return apperr.Auth(e.Message(), err)
	}
	return err
}
