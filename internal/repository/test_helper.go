package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/models"
)

// SetupTestDB 创建迁移好的内存数据库
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 每个测试使用独立的内存库
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库在连接关闭时丢失，固定单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// CreateTestCharacter 创建测试角色
func CreateTestCharacter(rid, ownerUID string, ruleSet game.RuleSetID) *game.Character {
	attrs := map[string]int{
		"str": 50, "con": 50, "dex": 60, "app": 40, "pow": 55,
		"siz": 65, "int": 70, "edu": 75, "luck": 45,
	}
	mp := 100
	if ruleSet == game.RuleSetDnD {
		attrs = map[string]int{"力量": 15, "敏捷": 14, "体质": 13, "智力": 12, "感知": 10, "魅力": 8}
		mp = 0
	}
	return &game.Character{
		RID:        rid,
		CreatorUID: ownerUID,
		RuleSet:    ruleSet,
		Name:       "测试角色" + rid,
		Profession: "无",
		Attributes: attrs,
		HP:         100,
		MP:         mp,
		Status:     game.CharacterStatusNormal,
		CreatedAt:  time.Now().Truncate(time.Second),
	}
}

// CreateTestSnapshot 创建测试存档
func CreateTestSnapshot(saveID, creator string) *game.SaveSnapshot {
	return &game.SaveSnapshot{
		SaveID:        saveID,
		Name:          "第一章",
		SessionID:     "123456",
		CreatorUserID: creator,
		RuleSet:       game.RuleSetCoC,
		PlotRef:       "haunted_house",
		MaxPlayers:    4,
		Players: []game.SavedPlayer{
			{UserID: creator, UID: "10000001", CharacterRID: "R00000001"},
			{UserID: "bob", UID: "10000002"},
		},
		NPCs: []game.NPC{
			{NPCID: "NPC0001", Name: "管家", Type: "人类", Attributes: map[string]int{"hp": 30}, HP: 30, SessionID: "123456"},
		},
		ProgressMarker: "开始",
		Status:         game.SnapshotIncomplete,
		SavedAt:        time.Now().Truncate(time.Second),
	}
}

// AssertCharacter 验证角色
func AssertCharacter(t *testing.T, expected, actual *game.Character) {
	assert.Equal(t, expected.RID, actual.RID)
	assert.Equal(t, expected.CreatorUID, actual.CreatorUID)
	assert.Equal(t, expected.RuleSet, actual.RuleSet)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.Attributes, actual.Attributes)
	assert.Equal(t, expected.HP, actual.HP)
	assert.Equal(t, expected.MP, actual.MP)
	assert.Len(t, actual.Items, len(expected.Items))
}
