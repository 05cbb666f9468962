package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"osapio-go/internal/model"
	"osapio-go/internal/repository"
	"osapio-go/pkg/hash"
	"osapio-go/pkg/log"
	"osapio-go/pkg/token"
)

// MinPasswordLength 是注册时要求的最短密码长度。
const MinPasswordLength = 6

// TokenPair 是登录或刷新后返回给客户端的一组 token。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, password, displayName string) (*model.User, *TokenPair, error)
	Login(ctx context.Context, email, password string) (*model.User, *TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	GetProfile(ctx context.Context, userID uint) (*model.User, error)
	UpdateProfile(ctx context.Context, userID uint, displayName string) (*model.User, error)
	// IsTokenRevoked 报告 token 是否已通过登出加入黑名单。
	IsTokenRevoked(ctx context.Context, accessToken string) (bool, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑，成功后直接签发 token。
func (s *userService) Register(ctx context.Context, email, password, displayName string) (*model.User, *TokenPair, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, fmt.Errorf("%w: 邮箱格式不正确", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return nil, nil, fmt.Errorf("%w: 密码长度至少为 %d 位", ErrInvalidInput, MinPasswordLength)
	}

	// 1. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	// 2. 写入数据库，唯一索引保证邮箱不重复
	now := time.Now()
	user := &model.User{
		Email:       email,
		Password:    hashedPassword,
		DisplayName: strings.TrimSpace(displayName),
		Provider:    model.ProviderPassword,
		LastLoginAt: &now,
	}
	if user.DisplayName == "" {
		user.DisplayName = strings.SplitN(email, "@", 2)[0]
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, err
	}
	log.Infof("[UserService] 新用户注册成功, userID: %d", user.ID)

	pair, err := s.issue(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, email, password string) (*model.User, *TokenPair, error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, nil, ErrInvalidCredentials
	}

	// 3. 生成 access token 和 refresh token
	pair, err := s.issue(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// RefreshToken 使用 refresh token 换取一组新的 token。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	revoked, err := s.tokenRepo.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	// 旧的 refresh token 作废
	if claims.ExpiresAt != nil {
		if err := s.tokenRepo.Blacklist(ctx, refreshToken, time.Until(claims.ExpiresAt.Time)); err != nil {
			log.Warnf("[UserService] 旧 refresh token 加入黑名单失败: %v", err)
		}
	}
	return pair, nil
}

// Logout 将 access token 加入黑名单，保留到其自然过期。
func (s *userService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.jwtManager.VerifyAccessToken(accessToken)
	if err != nil {
		return ErrInvalidToken
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := s.tokenRepo.Blacklist(ctx, accessToken, ttl); err != nil {
		return fmt.Errorf("token 加入黑名单失败: %w", err)
	}
	log.Infof("[UserService] 用户已登出, userID: %d", claims.UserID)
	return nil
}

// GetProfile 返回当前用户资料，并刷新最近登录时间。
func (s *userService) GetProfile(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	now := time.Now()
	user.LastLoginAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		log.Warnf("[UserService] 更新最近登录时间失败, userID: %d, error: %v", userID, err)
	}
	return user, nil
}

// UpdateProfile 修改显示名称。
func (s *userService) UpdateProfile(ctx context.Context, userID uint, displayName string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display_name 不能为空", ErrInvalidInput)
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	user.DisplayName = displayName
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) IsTokenRevoked(ctx context.Context, accessToken string) (bool, error) {
	return s.tokenRepo.IsBlacklisted(ctx, accessToken)
}

func (s *userService) issue(user *model.User) (*TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    s.jwtManager.AccessTokenTTL(),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
