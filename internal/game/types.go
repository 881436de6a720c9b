package game

import (
	"time"
)

// RuleSetID 规则系统标识
type RuleSetID string

const (
	RuleSetCoC RuleSetID = "coc" // 百分骰规则
	RuleSetDnD RuleSetID = "dnd" // d20规则
)

// Phase 会话阶段
type Phase string

const (
	PhaseRecruiting Phase = "recruiting" // 召集中
	PhasePreparing  Phase = "preparing"  // 角色准备
	PhasePlaying    Phase = "playing"    // 游戏中
	PhaseArchived   Phase = "archived"   // 已归档（终态）
)

// 角色状态
const (
	CharacterStatusNormal        = "normal"
	CharacterStatusIncapacitated = "incapacitated"
)

// 玩家状态
const (
	PlayerStatusAlive         = "alive"
	PlayerStatusIncapacitated = "incapacitated"
	PlayerStatusRemoved       = "removed"
)

// 存档状态
const (
	SnapshotIncomplete = "incomplete"
	SnapshotConsumed   = "consumed"
)

// Item 角色物品
type Item struct {
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// Character 角色卡，属性只在创建时校验
type Character struct {
	RID        string         `json:"rid"`
	CreatorUID string         `json:"creator_uid"`
	RuleSet    RuleSetID      `json:"ruleset"`
	Name       string         `json:"name"`
	Profession string         `json:"profession"`
	Attributes map[string]int `json:"attributes"`
	HP         int            `json:"hp"`
	MP         int            `json:"mp"`
	Items      []Item         `json:"items"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Clone 深拷贝，防止调用方修改缓存中的角色
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := *c
	out.Attributes = make(map[string]int, len(c.Attributes))
	for k, v := range c.Attributes {
		out.Attributes[k] = v
	}
	out.Items = append([]Item(nil), c.Items...)
	return &out
}

// Player 会话中的玩家席位
type Player struct {
	UserID       string    `json:"user_id"`
	UID          string    `json:"uid"`
	CharacterRID string    `json:"character_rid,omitempty"`
	Ready        bool      `json:"ready"`
	Status       string    `json:"status"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Bound 是否已绑定角色
func (p *Player) Bound() bool {
	return p.CharacterRID != ""
}

// NPC 会话内的非玩家角色
type NPC struct {
	NPCID      string         `json:"npc_id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Attributes map[string]int `json:"attributes"`
	HP         int            `json:"hp"`
	InCombat   bool           `json:"in_combat"`
	SessionID  string         `json:"session_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Clone 深拷贝
func (n *NPC) Clone() *NPC {
	if n == nil {
		return nil
	}
	out := *n
	out.Attributes = make(map[string]int, len(n.Attributes))
	for k, v := range n.Attributes {
		out.Attributes[k] = v
	}
	return &out
}

// SavedPlayer 存档中的玩家记录
type SavedPlayer struct {
	UserID       string `json:"user_id"`
	UID          string `json:"uid"`
	CharacterRID string `json:"character_rid,omitempty"`
}

// SaveSnapshot 会话存档
type SaveSnapshot struct {
	SaveID         string        `json:"save_id"`
	Name           string        `json:"name"`
	SessionID      string        `json:"session_id"`
	CreatorUserID  string        `json:"creator_user_id"`
	RuleSet        RuleSetID     `json:"ruleset"`
	PlotRef        string        `json:"plot_ref"`
	MaxPlayers     int           `json:"max_players"`
	Players        []SavedPlayer `json:"players"`
	NPCs           []NPC         `json:"npcs"`
	ProgressMarker string        `json:"progress_marker"`
	Status         string        `json:"status"`
	SavedAt        time.Time     `json:"saved_at"`
}

// User 注册用户
type User struct {
	UserID       string    `json:"user_id"`
	UID          string    `json:"uid"`
	RegisteredAt time.Time `json:"registered_at"`
}
