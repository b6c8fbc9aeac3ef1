// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/pkg/hash"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/token"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserExists         = errors.New("用户名已存在")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token has been revoked")
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	GetProfile(username string) (*model.User, error)
	// Authenticate 校验 access token 并返回对应用户，已注销的 token 返回 ErrTokenRevoked。
	Authenticate(ctx context.Context, accessToken string) (*model.User, error)
	Logout(ctx context.Context, accessToken string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
	SocketToken(user *model.User) (string, error)
}

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

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Username: username,
		Password: hashedPassword,
		Role:     "USER",
	}
	if err := s.userRepo.Create(newUser); err != nil {
		log.Errorf("[UserService] 创建用户失败, username: %s, error: %v", username, err)
		return nil, err
	}
	return newUser, nil
}

// Login 校验密码并签发 access token 与 refresh token。
func (s *userService) Login(username, password string) (accessToken, refreshToken string, err error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}

	// 3. 生成 token
	return s.issue(user)
}

func (s *userService) issue(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (s *userService) GetProfile(username string) (*model.User, error) {
	return s.userRepo.FindByUsername(username)
}

func (s *userService) Authenticate(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.jwtManager.VerifyToken(accessToken, token.PurposeAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.tokenRepo.IsRevoked(ctx, claims.ID)
	if err != nil {
		// 黑名单不可用时放行，只记录日志
		log.Warnf("[UserService] 查询 token 黑名单失败: %v", err)
	} else if revoked {
		return nil, ErrTokenRevoked
	}
	return s.userRepo.FindByUsername(claims.Username)
}

// Logout 把 token 加入黑名单，过期时间为其剩余有效期。
func (s *userService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.jwtManager.VerifyToken(accessToken, token.PurposeAccess)
	if err != nil {
		return err
	}
	return s.tokenRepo.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RefreshToken 验证 refresh token 并签发新的一对 token。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString, token.PurposeRefresh)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}
	user, err := s.userRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", errors.New("user not found")
	}
	return s.issue(user)
}

func (s *userService) SocketToken(user *model.User) (string, error) {
	return s.jwtManager.GenerateSocketToken(user.ID, user.Username, user.Role)
}
