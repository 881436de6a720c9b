package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/models"
)

// saveRepo 存档仓储实现
type saveRepo struct {
	*BaseRepo
}

// NewSaveRepository 创建存档仓储
func NewSaveRepository(db *gorm.DB) SaveStore {
	return &saveRepo{BaseRepo: NewBaseRepo(db)}
}

// Put 存在则更新，不存在则插入
func (r *saveRepo) Put(ctx context.Context, saveID string, s *game.SaveSnapshot) error {
	rec, err := models.NewSaveRecord(s)
	if err != nil {
		return errors.Wrap(err, errors.ErrDataIntegrity, "序列化存档失败")
	}
	rec.SaveID = saveID

	result := r.db.WithContext(ctx).
		Where("save_id = ?", saveID).
		Assign(map[string]interface{}{
			"name":            rec.Name,
			"session_id":      rec.SessionID,
			"creator_user_id": rec.CreatorUserID,
			"rule_set":        rec.RuleSet,
			"plot_ref":        rec.PlotRef,
			"max_players":     rec.MaxPlayers,
			"players":         rec.Players,
			"npcs":            rec.NPCs,
			"progress_marker": rec.ProgressMarker,
			"status":          rec.Status,
			"saved_at":        rec.SavedAt,
		}).
		FirstOrCreate(rec)
	return dbError(result.Error, "存档", saveID)
}

// Get 按存档ID查找
func (r *saveRepo) Get(ctx context.Context, saveID string) (*game.SaveSnapshot, error) {
	var rec models.SaveRecord
	if err := r.db.WithContext(ctx).Where("save_id = ?", saveID).First(&rec).Error; err != nil {
		return nil, dbError(err, "存档", saveID)
	}
	s, err := rec.ToGame()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDataIntegrity, "解析存档失败")
	}
	return s, nil
}

// Delete 删除存档
func (r *saveRepo) Delete(ctx context.Context, saveID string) error {
	result := r.db.WithContext(ctx).Where("save_id = ?", saveID).Delete(&models.SaveRecord{})
	if result.Error != nil {
		return dbError(result.Error, "存档", saveID)
	}
	if result.RowsAffected == 0 {
		return errors.Newf(errors.ErrNotFound, "存档 %s 不存在", saveID)
	}
	return nil
}

// ListAll 全部存档，按存档时间排序
func (r *saveRepo) ListAll(ctx context.Context) ([]*game.SaveSnapshot, error) {
	var recs []models.SaveRecord
	if err := r.db.WithContext(ctx).Order("saved_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, dbError(err, "存档", "*")
	}
	out := make([]*game.SaveSnapshot, 0, len(recs))
	for i := range recs {
		s, err := recs[i].ToGame()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrDataIntegrity, "解析存档失败")
		}
		out = append(out, s)
	}
	return out, nil
}
