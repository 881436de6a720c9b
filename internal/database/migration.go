package database

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/logger"
	"github.com/wfunc/trpg-master/internal/models"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}

	err := withMigrationLock(sqliteFile(), func() error {
		logger.Info("开始数据库迁移...")
		for _, model := range models.AllModels() {
			if err := DB.AutoMigrate(model); err != nil {
				logger.Error("迁移失败",
					zap.String("model", fmt.Sprintf("%T", model)),
					zap.Error(err),
				)
				return errors.Wrapf(err, errors.ErrDatabaseQuery, "迁移 %T 失败", model)
			}
			logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	createIndexes()

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建查询用的组合索引，失败只记录
func createIndexes() {
	indexes := map[string]string{
		"idx_characters_owner_ruleset": "CREATE INDEX IF NOT EXISTS idx_characters_owner_ruleset ON characters(creator_uid, rule_set)",
		"idx_saves_creator_saved_at":   "CREATE INDEX IF NOT EXISTS idx_saves_creator_saved_at ON saves(creator_user_id, saved_at)",
	}
	for name, stmt := range indexes {
		if err := DB.Exec(stmt).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", name), zap.Error(err))
		}
	}
}
