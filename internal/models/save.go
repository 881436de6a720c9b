package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/wfunc/trpg-master/internal/game"
)

// SaveRecord 存档表
type SaveRecord struct {
	Model
	SaveID         string         `gorm:"column:save_id;uniqueIndex;size:64;not null" json:"save_id"`
	Name           string         `gorm:"size:100" json:"name"`
	SessionID      string         `gorm:"size:16" json:"session_id"`
	CreatorUserID  string         `gorm:"column:creator_user_id;index;size:64;not null" json:"creator_user_id"`
	RuleSet        string         `gorm:"column:rule_set;size:8" json:"ruleset"`
	PlotRef        string         `gorm:"size:255" json:"plot_ref"`
	MaxPlayers     int            `json:"max_players"`
	Players        datatypes.JSON `json:"players"`
	NPCs           datatypes.JSON `gorm:"column:npcs" json:"npcs"`
	ProgressMarker string         `gorm:"type:text" json:"progress_marker"`
	Status         string         `gorm:"size:20" json:"status"`
	SavedAt        time.Time      `gorm:"index" json:"saved_at"`
}

// TableName 指定表名
func (SaveRecord) TableName() string {
	return "saves"
}

// NewSaveRecord 由存档构造表记录
func NewSaveRecord(s *game.SaveSnapshot) (*SaveRecord, error) {
	players := s.Players
	if players == nil {
		players = []game.SavedPlayer{}
	}
	playersJSON, err := json.Marshal(players)
	if err != nil {
		return nil, err
	}
	npcs := s.NPCs
	if npcs == nil {
		npcs = []game.NPC{}
	}
	npcsJSON, err := json.Marshal(npcs)
	if err != nil {
		return nil, err
	}
	return &SaveRecord{
		SaveID:         s.SaveID,
		Name:           s.Name,
		SessionID:      s.SessionID,
		CreatorUserID:  s.CreatorUserID,
		RuleSet:        string(s.RuleSet),
		PlotRef:        s.PlotRef,
		MaxPlayers:     s.MaxPlayers,
		Players:        datatypes.JSON(playersJSON),
		NPCs:           datatypes.JSON(npcsJSON),
		ProgressMarker: s.ProgressMarker,
		Status:         s.Status,
		SavedAt:        s.SavedAt,
	}, nil
}

// ToGame 转换为存档
func (r *SaveRecord) ToGame() (*game.SaveSnapshot, error) {
	s := &game.SaveSnapshot{
		SaveID:         r.SaveID,
		Name:           r.Name,
		SessionID:      r.SessionID,
		CreatorUserID:  r.CreatorUserID,
		RuleSet:        game.RuleSetID(r.RuleSet),
		PlotRef:        r.PlotRef,
		MaxPlayers:     r.MaxPlayers,
		ProgressMarker: r.ProgressMarker,
		Status:         r.Status,
		SavedAt:        r.SavedAt,
	}
	if len(r.Players) > 0 {
		if err := json.Unmarshal(r.Players, &s.Players); err != nil {
			return nil, err
		}
	}
	if len(r.NPCs) > 0 {
		if err := json.Unmarshal(r.NPCs, &s.NPCs); err != nil {
			return nil, err
		}
	}
	return s, nil
}
