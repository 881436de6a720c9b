package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/wfunc/trpg-master/internal/game"
)

// CharacterRecord 角色卡表
type CharacterRecord struct {
	Model
	RID                string         `gorm:"column:rid;uniqueIndex;size:16;not null" json:"rid"`
	CreatorUID         string         `gorm:"column:creator_uid;index;size:16;not null" json:"creator_uid"`
	RuleSet            string         `gorm:"column:rule_set;size:8;not null" json:"ruleset"`
	Name               string         `gorm:"size:100;not null" json:"name"`
	Profession         string         `gorm:"size:100" json:"profession"`
	Attributes         datatypes.JSON `json:"attributes"`
	HP                 int            `gorm:"column:hp" json:"hp"`
	MP                 int            `gorm:"column:mp" json:"mp"`
	Items              datatypes.JSON `json:"items"`
	Status             string         `gorm:"size:20" json:"status"`
	CharacterCreatedAt time.Time      `json:"character_created_at"`
}

// TableName 指定表名
func (CharacterRecord) TableName() string {
	return "characters"
}

// NewCharacterRecord 由角色构造表记录
func NewCharacterRecord(c *game.Character) (*CharacterRecord, error) {
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return nil, err
	}
	items := c.Items
	if items == nil {
		items = []game.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return &CharacterRecord{
		RID:                c.RID,
		CreatorUID:         c.CreatorUID,
		RuleSet:            string(c.RuleSet),
		Name:               c.Name,
		Profession:         c.Profession,
		Attributes:         datatypes.JSON(attrs),
		HP:                 c.HP,
		MP:                 c.MP,
		Items:              datatypes.JSON(itemsJSON),
		Status:             c.Status,
		CharacterCreatedAt: c.CreatedAt,
	}, nil
}

// ToGame 转换为角色
func (r *CharacterRecord) ToGame() (*game.Character, error) {
	c := &game.Character{
		RID:        r.RID,
		CreatorUID: r.CreatorUID,
		RuleSet:    game.RuleSetID(r.RuleSet),
		Name:       r.Name,
		Profession: r.Profession,
		HP:         r.HP,
		MP:         r.MP,
		Status:     r.Status,
		CreatedAt:  r.CharacterCreatedAt,
	}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &c.Attributes); err != nil {
			return nil, err
		}
	}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &c.Items); err != nil {
			return nil, err
		}
	}
	return c, nil
}
