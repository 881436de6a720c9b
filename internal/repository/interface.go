package repository

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
)

// CharacterStore 角色卡存储
type CharacterStore interface {
	Put(ctx context.Context, rid string, c *game.Character) error
	Get(ctx context.Context, rid string) (*game.Character, error)
	Delete(ctx context.Context, rid string) error
	ListAll(ctx context.Context) ([]*game.Character, error)
}

// UserRegistry 用户注册表
type UserRegistry interface {
	Put(ctx context.Context, userID, uid string) error
	Get(ctx context.Context, userID string) (*game.User, error)
	ListAll(ctx context.Context) ([]*game.User, error)
}

// SaveStore 存档存储
type SaveStore interface {
	Put(ctx context.Context, saveID string, s *game.SaveSnapshot) error
	Get(ctx context.Context, saveID string) (*game.SaveSnapshot, error)
	Delete(ctx context.Context, saveID string) error
	ListAll(ctx context.Context) ([]*game.SaveSnapshot, error)
}

// BaseRepo 基础仓储实现
type BaseRepo struct {
	db *gorm.DB
}

// NewBaseRepo 创建基础仓储
func NewBaseRepo(db *gorm.DB) *BaseRepo {
	return &BaseRepo{db: db}
}

// GetDB 获取数据库实例
func (r *BaseRepo) GetDB() *gorm.DB {
	return r.db
}

// Transaction 执行事务
func (r *BaseRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// dbError 把gorm错误转换为业务错误
func dbError(err error, what, key string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf(errors.ErrNotFound, "%s %s 不存在", what, key)
	}
	return errors.Wrapf(err, errors.ErrDatabaseQuery, "%s %s", what, key)
}
