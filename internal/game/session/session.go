package session

import (
	"sync"
	"time"

	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/combat"
)

// Session 一局跑团会话，所有读改写都在 mu 内完成
type Session struct {
	mu sync.Mutex

	id          string
	ruleSet     game.RuleSetID
	plotRef     string
	plotContent string
	maxPlayers  int
	creator     string
	phase       game.Phase
	players     []*game.Player
	npcs        []*game.NPC
	progress    string
	combat      *combat.Engine
	timers      []Timer

	// 读档恢复时的原始玩家名单
	originalPlayers []game.SavedPlayer
	restoredFrom    string

	createdAt    time.Time
	lastActivity time.Time
}

// View 会话的只读快照
type View struct {
	SessionID      string         `json:"session_id"`
	RuleSet        game.RuleSetID `json:"ruleset"`
	PlotRef        string         `json:"plot_ref"`
	MaxPlayers     int            `json:"max_players"`
	CreatorUserID  string         `json:"creator_user_id"`
	Phase          game.Phase     `json:"phase"`
	Players        []game.Player  `json:"players"`
	NPCs           []game.NPC     `json:"npcs"`
	ProgressMarker string         `json:"progress_marker"`
	CombatActive   bool           `json:"combat_active"`
	RestoredFrom   string         `json:"restored_from,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivity   time.Time      `json:"last_activity"`
}

func (s *Session) view() *View {
	v := &View{
		SessionID:      s.id,
		RuleSet:        s.ruleSet,
		PlotRef:        s.plotRef,
		MaxPlayers:     s.maxPlayers,
		CreatorUserID:  s.creator,
		Phase:          s.phase,
		Players:        make([]game.Player, 0, len(s.players)),
		NPCs:           make([]game.NPC, 0, len(s.npcs)),
		ProgressMarker: s.progress,
		CombatActive:   s.combat.Active(),
		RestoredFrom:   s.restoredFrom,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
	}
	for _, p := range s.players {
		v.Players = append(v.Players, *p)
	}
	for _, n := range s.npcs {
		v.NPCs = append(v.NPCs, *n.Clone())
	}
	return v
}

// player 按用户查找席位
func (s *Session) player(userID string) (*game.Player, int) {
	for i, p := range s.players {
		if p.UserID == userID {
			return p, i
		}
	}
	return nil, -1
}

// allReady 至少一名玩家且全员就绪
func (s *Session) allReady() bool {
	if len(s.players) == 0 {
		return false
	}
	for _, p := range s.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// boundRIDs 本会话已绑定的角色
func (s *Session) boundRIDs() map[string]bool {
	out := make(map[string]bool, len(s.players))
	for _, p := range s.players {
		if p.Bound() {
			out[p.CharacterRID] = true
		}
	}
	return out
}

// npc 按ID或名称查找NPC
func (s *Session) npc(target string) (*game.NPC, int) {
	for i, n := range s.npcs {
		if n.NPCID == target {
			return n, i
		}
	}
	for i, n := range s.npcs {
		if n.Name == target {
			return n, i
		}
	}
	return nil, -1
}

func (s *Session) hasNPCID(id string) bool {
	for _, n := range s.npcs {
		if n.NPCID == id {
			return true
		}
	}
	return false
}

func (s *Session) stopTimers() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
