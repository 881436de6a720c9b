// Package combat 回合制战斗：先攻排序、回合推进与轮次计数
package combat

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/check"
)

// 攻击与伤害骰
const (
	AttackDie = 20
	DamageDie = 8
)

// Kind 参战者类型
type Kind string

const (
	KindPlayer Kind = "player"
	KindNPC    Kind = "npc"
)

// Entrant 开战时的参战者快照
type Entrant struct {
	Kind Kind
	// ID 玩家为角色rid，NPC为npcId
	ID          string
	OwnerUserID string
	Name        string
	Speed       int
	HP          int
	Status      string
}

// Participant 战斗中的参战者
type Participant struct {
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`
	Initiative  int    `json:"initiative"`
	HP          int    `json:"hp"`
	Status      string `json:"status"`
}

// Status 战斗状态
type Status struct {
	Round        int           `json:"round"`
	Current      Participant   `json:"current"`
	Participants []Participant `json:"participants"`
}

// AttackResult 攻击结果
type AttackResult struct {
	Attacker    Participant `json:"attacker"`
	Target      Participant `json:"target"`
	AttackRoll  int         `json:"attack_roll"`
	DamageRoll  int         `json:"damage_roll"`
	Round       int         `json:"round"`
	NextTurn    Participant `json:"next_turn"`
	RoundPassed bool        `json:"round_passed"`
}

// Engine 单个会话的战斗状态机，由会话锁保护，自身不加锁
type Engine struct {
	roller game.Roller
	logger *zap.Logger

	active       bool
	round        int
	participants []Participant
	current      int
}

// NewEngine 创建战斗引擎，初始为未开战
func NewEngine(roller game.Roller, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{roller: roller, logger: logger}
}

// Active 是否在战斗中
func (e *Engine) Active() bool {
	return e.active
}

// Start 开始战斗：先攻 = d20 + floor(速度/10)，降序稳定排序
func (e *Engine) Start(entrants []Entrant) (*Status, error) {
	if e.active {
		return nil, errors.New(errors.ErrCombatActive)
	}
	if len(entrants) == 0 {
		return nil, errors.New(errors.ErrInvalidParam, "没有可以参战的角色")
	}

	participants := make([]Participant, 0, len(entrants))
	for _, en := range entrants {
		participants = append(participants, Participant{
			Kind:        en.Kind,
			ID:          en.ID,
			OwnerUserID: en.OwnerUserID,
			Name:        en.Name,
			Initiative:  e.roller.Roll(AttackDie) + check.FloorDiv(en.Speed, 10),
			HP:          en.HP,
			Status:      en.Status,
		})
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Initiative > participants[j].Initiative
	})

	e.active = true
	e.round = 1
	e.current = 0
	e.participants = participants

	e.logger.Info("战斗开始",
		zap.Int("participants", len(participants)),
		zap.String("first", participants[0].Name))
	return e.status(), nil
}

// Attack 当前行动者攻击目标，结束后推进回合
func (e *Engine) Attack(requesterID, target string) (*AttackResult, error) {
	if !e.active {
		return nil, errors.New(errors.ErrNoActiveCombat)
	}
	attacker := e.participants[e.current]
	if attacker.OwnerUserID != requesterID {
		return nil, errors.Newf(errors.ErrNotYourTurn, "现在是 %s 的回合", attacker.Name)
	}
	res := &AttackResult{
		Attacker:   attacker,
		AttackRoll: e.roller.Roll(AttackDie),
		DamageRoll: e.roller.Roll(DamageDie),
	}
	// 目标可以是场景中的任意事物，非参战者原样回显名称
	if idx := e.find(target); idx >= 0 {
		res.Target = e.participants[idx]
	} else {
		res.Target = Participant{Name: target}
	}

	e.current = (e.current + 1) % len(e.participants)
	if e.current == 0 {
		e.round++
		res.RoundPassed = true
	}
	res.Round = e.round
	res.NextTurn = e.participants[e.current]

	e.logger.Debug("攻击",
		zap.String("attacker", attacker.Name),
		zap.String("target", res.Target.Name),
		zap.Int("attack", res.AttackRoll),
		zap.Int("damage", res.DamageRoll),
		zap.Int("round", e.round))
	return res, nil
}

// End 结束战斗并丢弃战斗状态
func (e *Engine) End() error {
	if !e.active {
		return errors.New(errors.ErrNoActiveCombat)
	}
	e.logger.Info("战斗结束", zap.Int("round", e.round))
	e.reset()
	return nil
}

// Status 查询战斗状态
func (e *Engine) Status() (*Status, error) {
	if !e.active {
		return nil, errors.New(errors.ErrNoActiveCombat)
	}
	return e.status(), nil
}

// AdjustHP 同步参战者生命值，返回是否命中
func (e *Engine) AdjustHP(kind Kind, id string, hp int) bool {
	if !e.active {
		return false
	}
	for i := range e.participants {
		if e.participants[i].Kind == kind && e.participants[i].ID == id {
			e.participants[i].HP = hp
			return true
		}
	}
	return false
}

// Remove 移除参战者，保证当前回合下标有效；全部移除后战斗结束
func (e *Engine) Remove(kind Kind, id string) bool {
	if !e.active {
		return false
	}
	idx := -1
	for i := range e.participants {
		if e.participants[i].Kind == kind && e.participants[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	e.participants = append(e.participants[:idx], e.participants[idx+1:]...)
	if len(e.participants) == 0 {
		e.logger.Info("参战者全部离场，战斗结束", zap.Int("round", e.round))
		e.reset()
		return true
	}
	if idx < e.current {
		e.current--
	}
	if e.current >= len(e.participants) {
		e.current = 0
		e.round++
	}
	return true
}

// Reset 会话归档时直接丢弃战斗
func (e *Engine) Reset() {
	e.reset()
}

func (e *Engine) reset() {
	e.active = false
	e.round = 0
	e.current = 0
	e.participants = nil
}

// find 按ID或名称查找参战者
func (e *Engine) find(target string) int {
	for i, p := range e.participants {
		if p.ID == target {
			return i
		}
	}
	for i, p := range e.participants {
		if p.Name == target {
			return i
		}
	}
	return -1
}

func (e *Engine) status() *Status {
	return &Status{
		Round:        e.round,
		Current:      e.participants[e.current],
		Participants: append([]Participant(nil), e.participants...),
	}
}
