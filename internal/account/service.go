// Package account 用户注册：为聊天身份分配8位数字uid
package account

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/repository"
)

const uidAttempts = 20

// Service 用户服务
type Service struct {
	registry repository.UserRegistry
	logger   *zap.Logger
	// newUID 可在测试中替换
	newUID func() string

	mu sync.Mutex
}

// NewService 创建用户服务
func NewService(registry repository.UserRegistry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		logger:   logger,
		newUID:   func() string { return fmt.Sprintf("%d", 10000000+rand.IntN(90000000)) },
	}
}

// Register 注册用户，已注册时返回原有记录；第二个返回值表示是否新注册
func (s *Service) Register(ctx context.Context, userID string) (*game.User, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, errors.New(errors.ErrInvalidParam, "用户标识不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, err := s.registry.Get(ctx, userID); err == nil {
		return u, false, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, false, errors.WrapAs(err, errors.ErrPersistence, "查询用户失败")
	}

	all, err := s.registry.ListAll(ctx)
	if err != nil {
		return nil, false, errors.WrapAs(err, errors.ErrPersistence, "查询用户失败")
	}
	used := make(map[string]struct{}, len(all))
	for _, u := range all {
		used[u.UID] = struct{}{}
	}

	for i := 0; i < uidAttempts; i++ {
		uid := s.newUID()
		if _, dup := used[uid]; dup {
			continue
		}
		if err := s.registry.Put(ctx, userID, uid); err != nil {
			return nil, false, errors.WrapAs(err, errors.ErrPersistence, "保存用户失败")
		}
		u, err := s.registry.Get(ctx, userID)
		if err != nil {
			return nil, false, errors.WrapAs(err, errors.ErrPersistence, "查询用户失败")
		}
		s.logger.Info("用户注册", zap.String("user_id", userID), zap.String("uid", uid))
		return u, true, nil
	}
	return nil, false, errors.New(errors.ErrUnknown, "无法分配uid")
}

// Lookup 查询已注册用户，未注册时返回 ErrNotRegistered
func (s *Service) Lookup(ctx context.Context, userID string) (*game.User, error) {
	u, err := s.registry.Get(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.New(errors.ErrNotRegistered, "请先使用注册命令注册")
	}
	if err != nil {
		return nil, errors.WrapAs(err, errors.ErrPersistence, "查询用户失败")
	}
	return u, nil
}
