package models

import (
	"time"
)

// Model 表公共字段
type Model struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&UserRecord{},
		&CharacterRecord{},
		&SaveRecord{},
	}
}
