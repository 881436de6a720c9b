package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/models"
)

// characterRepo 角色卡仓储实现
type characterRepo struct {
	*BaseRepo
}

// NewCharacterRepository 创建角色卡仓储
func NewCharacterRepository(db *gorm.DB) CharacterStore {
	return &characterRepo{BaseRepo: NewBaseRepo(db)}
}

// Put 存在则更新，不存在则插入；用map赋值以免零值（如hp=0）被忽略
func (r *characterRepo) Put(ctx context.Context, rid string, c *game.Character) error {
	rec, err := models.NewCharacterRecord(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrDataIntegrity, "序列化角色失败")
	}
	rec.RID = rid

	result := r.db.WithContext(ctx).
		Where("rid = ?", rid).
		Assign(map[string]interface{}{
			"creator_uid":          rec.CreatorUID,
			"rule_set":             rec.RuleSet,
			"name":                 rec.Name,
			"profession":           rec.Profession,
			"attributes":           rec.Attributes,
			"hp":                   rec.HP,
			"mp":                   rec.MP,
			"items":                rec.Items,
			"status":               rec.Status,
			"character_created_at": rec.CharacterCreatedAt,
		}).
		FirstOrCreate(rec)
	return dbError(result.Error, "角色", rid)
}

// Get 按rid查找
func (r *characterRepo) Get(ctx context.Context, rid string) (*game.Character, error) {
	var rec models.CharacterRecord
	if err := r.db.WithContext(ctx).Where("rid = ?", rid).First(&rec).Error; err != nil {
		return nil, dbError(err, "角色", rid)
	}
	c, err := rec.ToGame()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDataIntegrity, "解析角色失败")
	}
	return c, nil
}

// Delete 删除角色
func (r *characterRepo) Delete(ctx context.Context, rid string) error {
	result := r.db.WithContext(ctx).Where("rid = ?", rid).Delete(&models.CharacterRecord{})
	if result.Error != nil {
		return dbError(result.Error, "角色", rid)
	}
	if result.RowsAffected == 0 {
		return errors.Newf(errors.ErrNotFound, "角色 %s 不存在", rid)
	}
	return nil
}

// ListAll 全部角色，按创建时间排序
func (r *characterRepo) ListAll(ctx context.Context) ([]*game.Character, error) {
	var recs []models.CharacterRecord
	if err := r.db.WithContext(ctx).Order("character_created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, dbError(err, "角色", "*")
	}
	out := make([]*game.Character, 0, len(recs))
	for i := range recs {
		c, err := recs[i].ToGame()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrDataIntegrity, "解析角色失败")
		}
		out = append(out, c)
	}
	return out, nil
}
