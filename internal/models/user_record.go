package models

import (
	"time"

	"github.com/wfunc/trpg-master/internal/game"
)

// UserRecord 注册用户表
type UserRecord struct {
	Model
	UserID       string    `gorm:"column:user_id;uniqueIndex;size:64;not null" json:"user_id"`
	UID          string    `gorm:"column:uid;uniqueIndex;size:16;not null" json:"uid"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TableName 指定表名
func (UserRecord) TableName() string {
	return "trpg_users"
}

// ToGame 转换为用户
func (r *UserRecord) ToGame() *game.User {
	return &game.User{UserID: r.UserID, UID: r.UID, RegisteredAt: r.RegisteredAt}
}
