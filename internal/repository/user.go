package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/models"
)

// userRepo 用户注册表实现
type userRepo struct {
	*BaseRepo
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRegistry {
	return &userRepo{BaseRepo: NewBaseRepo(db)}
}

// Put 登记用户，已存在时更新uid
func (r *userRepo) Put(ctx context.Context, userID, uid string) error {
	rec := &models.UserRecord{UserID: userID, UID: uid, RegisteredAt: time.Now()}
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Assign(models.UserRecord{UID: uid}).
		FirstOrCreate(rec)
	return dbError(result.Error, "用户", userID)
}

// Get 按用户标识查找
func (r *userRepo) Get(ctx context.Context, userID string) (*game.User, error) {
	var rec models.UserRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, dbError(err, "用户", userID)
	}
	return rec.ToGame(), nil
}

// ListAll 全部用户
func (r *userRepo) ListAll(ctx context.Context) ([]*game.User, error) {
	var recs []models.UserRecord
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, dbError(err, "用户", "*")
	}
	out := make([]*game.User, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].ToGame())
	}
	return out, nil
}
