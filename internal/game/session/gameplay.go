package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/check"
	"github.com/wfunc/trpg-master/internal/game/combat"
	"github.com/wfunc/trpg-master/internal/narrative"
)

// NPCRequest 创建NPC参数
type NPCRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Attributes map[string]int `json:"attributes"`
}

// HPChange 生命值调整结果
type HPChange struct {
	Kind combat.Kind `json:"kind"`
	ID   string      `json:"id"`
	Name string      `json:"name"`
	HP   int         `json:"hp"`
}

// PlotAdvance 剧情推进结果，Advanced 为 false 时 Text 是兜底文本
type PlotAdvance struct {
	Text           string `json:"text"`
	Advanced       bool   `json:"advanced"`
	ProgressMarker string `json:"progress_marker"`
}

// acquirePlaying 加锁并要求会话处于游戏阶段
func (r *Registry) acquirePlaying(sessionID string) (*Session, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	if s.phase != game.PhasePlaying {
		s.mu.Unlock()
		return nil, errors.Newf(errors.ErrWrongPhase, "剧本 %s 还没有开始游戏", sessionID)
	}
	return s, nil
}

// boundCharacter 玩家绑定的角色
func (r *Registry) boundCharacter(ctx context.Context, s *Session, userID string) (*game.Player, *game.Character, error) {
	p, _ := s.player(userID)
	if p == nil {
		return nil, nil, errors.Newf(errors.ErrNotInSession, "玩家 %s 不在剧本中", userID)
	}
	if !p.Bound() {
		return p, nil, errors.Newf(errors.ErrNoCharacter, "玩家 %s 还没有角色", userID)
	}
	c, err := r.characters.Get(ctx, p.CharacterRID)
	if err != nil {
		return p, nil, err
	}
	return p, c, nil
}

// Check 玩家用绑定角色进行检定
func (r *Registry) Check(ctx context.Context, sessionID, userID, checkKey string, mod check.Modifier) (*check.Outcome, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	_, c, err := r.boundCharacter(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	out, err := r.resolver.Resolve(c, strings.TrimSpace(checkKey), mod)
	if err != nil {
		return nil, err
	}
	s.lastActivity = r.clock.Now()

	r.logger.Debug("检定",
		zap.String("session_id", s.id),
		zap.String("user_id", userID),
		zap.String("check", out.CheckKey),
		zap.Int("roll", out.Roll),
		zap.Int("target", out.Target),
		zap.String("tier", string(out.Tier)))
	return out, nil
}

// StartCombat 开始战斗：已绑定角色的玩家与标记参战的NPC
func (r *Registry) StartCombat(ctx context.Context, sessionID, requesterUserID string) (*combat.Status, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	if s.combat.Active() {
		return nil, errors.New(errors.ErrCombatActive)
	}
	rs, err := r.catalog.Get(s.ruleSet)
	if err != nil {
		return nil, err
	}

	entrants := make([]combat.Entrant, 0, len(s.players)+len(s.npcs))
	for _, p := range s.players {
		if !p.Bound() || p.Status == game.PlayerStatusRemoved {
			continue
		}
		c, err := r.characters.Get(ctx, p.CharacterRID)
		if err != nil {
			return nil, err
		}
		entrants = append(entrants, combat.Entrant{
			Kind:        combat.KindPlayer,
			ID:          c.RID,
			OwnerUserID: p.UserID,
			Name:        c.Name,
			Speed:       rs.SpeedValue(c.Attributes),
			HP:          c.HP,
			Status:      c.Status,
		})
	}
	for _, n := range s.npcs {
		if !n.InCombat {
			continue
		}
		entrants = append(entrants, combat.Entrant{
			Kind:        combat.KindNPC,
			ID:          n.NPCID,
			OwnerUserID: s.creator,
			Name:        n.Name,
			Speed:       n.Attributes["dex"],
			HP:          n.HP,
			Status:      game.CharacterStatusNormal,
		})
	}

	st, err := s.combat.Start(entrants)
	if err != nil {
		return nil, err
	}
	s.lastActivity = r.clock.Now()
	r.logger.Info("战斗开始", zap.String("session_id", s.id), zap.Int("participants", len(st.Participants)))
	return st, nil
}

// Attack 当前回合的行动者发起攻击，NPC回合由团长操作
func (r *Registry) Attack(_ context.Context, sessionID, userID, target string) (*combat.AttackResult, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	res, err := s.combat.Attack(userID, strings.TrimSpace(target))
	if err != nil {
		return nil, err
	}
	s.lastActivity = r.clock.Now()
	return res, nil
}

// EndCombat 团长或管理员结束战斗
func (r *Registry) EndCombat(_ context.Context, sessionID, requesterUserID string) error {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return err
	}
	if err := s.combat.End(); err != nil {
		return err
	}
	s.lastActivity = r.clock.Now()
	return nil
}

// CombatStatus 查询战斗状态
func (r *Registry) CombatStatus(sessionID, userID string) (*combat.Status, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requireMember(s, userID); err != nil {
		return nil, err
	}
	return s.combat.Status()
}

// CreateNPC 创建NPC，生命值取属性hp，缺省为50
func (r *Registry) CreateNPC(_ context.Context, sessionID, requesterUserID string, req NPCRequest) (*game.NPC, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New(errors.ErrInvalidParam, "NPC名称不能为空")
	}

	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	id, err := r.allocateNPCID(s)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]int, len(req.Attributes))
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	hp, ok := attrs["hp"]
	if !ok {
		hp = defaultNPCHP
	}
	n := &game.NPC{
		NPCID:      id,
		Name:       name,
		Type:       strings.TrimSpace(req.Type),
		Attributes: attrs,
		HP:         hp,
		SessionID:  s.id,
		CreatedAt:  r.clock.Now(),
	}
	s.npcs = append(s.npcs, n)
	s.lastActivity = r.clock.Now()

	r.logger.Info("NPC创建", zap.String("session_id", s.id), zap.String("npc_id", id), zap.String("name", name))
	return n.Clone(), nil
}

func (r *Registry) allocateNPCID(s *Session) (string, error) {
	for i := 0; i < idAttempts; i++ {
		id := fmt.Sprintf("NPC%d", 1000+rand.IntN(9000))
		if !s.hasNPCID(id) {
			return id, nil
		}
	}
	return "", errors.New(errors.ErrUnknown, "无法分配NPC ID")
}

// ListNPCs 会话内的NPC
func (r *Registry) ListNPCs(sessionID, requesterUserID string) ([]game.NPC, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	out := make([]game.NPC, 0, len(s.npcs))
	for _, n := range s.npcs {
		out = append(out, *n.Clone())
	}
	return out, nil
}

// RemoveNPC 按ID或名称移除NPC，同时退出战斗
func (r *Registry) RemoveNPC(_ context.Context, sessionID, requesterUserID, target string) error {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return err
	}
	n, idx := s.npc(strings.TrimSpace(target))
	if n == nil {
		return errors.Newf(errors.ErrNotFound, "NPC %s 不存在", target)
	}
	s.npcs = append(s.npcs[:idx], s.npcs[idx+1:]...)
	s.combat.Remove(combat.KindNPC, n.NPCID)
	s.lastActivity = r.clock.Now()

	r.logger.Info("NPC移除", zap.String("session_id", s.id), zap.String("npc_id", n.NPCID))
	return nil
}

// SetNPCCombat 标记NPC是否参加下一场战斗
func (r *Registry) SetNPCCombat(_ context.Context, sessionID, requesterUserID, target string, inCombat bool) (*game.NPC, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	n, _ := s.npc(strings.TrimSpace(target))
	if n == nil {
		return nil, errors.Newf(errors.ErrNotFound, "NPC %s 不存在", target)
	}
	n.InCombat = inCombat
	s.lastActivity = r.clock.Now()
	return n.Clone(), nil
}

// GiveItem 团长或管理员给玩家的角色分配物品
func (r *Registry) GiveItem(ctx context.Context, sessionID, requesterUserID, targetUserID, name string, quantity int) (*game.Character, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	p, _ := s.player(targetUserID)
	if p == nil {
		return nil, errors.Newf(errors.ErrNotInSession, "玩家 %s 不在剧本中", targetUserID)
	}
	if !p.Bound() {
		return nil, errors.Newf(errors.ErrNoCharacter, "玩家 %s 还没有角色", targetUserID)
	}
	c, err := r.characters.GiveItem(ctx, p.CharacterRID, name, quantity)
	if err != nil {
		return nil, err
	}
	s.lastActivity = r.clock.Now()

	r.logger.Info("物品分配",
		zap.String("session_id", s.id),
		zap.String("user_id", targetUserID),
		zap.String("rid", c.RID),
		zap.String("item", name),
		zap.Int("quantity", quantity))
	return c, nil
}

// ListItems 玩家自己角色的物品
func (r *Registry) ListItems(ctx context.Context, sessionID, userID string) ([]game.Item, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	_, c, err := r.boundCharacter(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	return c.Items, nil
}

// AdjustHP 调整玩家角色或NPC的生命值，同步到进行中的战斗
func (r *Registry) AdjustHP(ctx context.Context, sessionID, requesterUserID, target string, delta int) (*HPChange, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	target = strings.TrimSpace(target)

	if n, _ := s.npc(target); n != nil {
		n.HP = max(n.HP+delta, 0)
		s.combat.AdjustHP(combat.KindNPC, n.NPCID, n.HP)
		s.lastActivity = r.clock.Now()
		return &HPChange{Kind: combat.KindNPC, ID: n.NPCID, Name: n.Name, HP: n.HP}, nil
	}

	p, _ := s.player(target)
	if p == nil {
		return nil, errors.Newf(errors.ErrNotFound, "目标 %s 不存在", target)
	}
	if !p.Bound() {
		return nil, errors.Newf(errors.ErrNoCharacter, "玩家 %s 还没有角色", target)
	}
	c, err := r.characters.AdjustHP(ctx, p.CharacterRID, delta)
	if err != nil {
		return nil, err
	}
	s.combat.AdjustHP(combat.KindPlayer, c.RID, c.HP)
	s.lastActivity = r.clock.Now()
	return &HPChange{Kind: combat.KindPlayer, ID: c.RID, Name: c.Name, HP: c.HP}, nil
}

// AdvancePlot 推进剧情。外部服务在会话锁外调用，失败时返回兜底文本且不改变进度
func (r *Registry) AdvancePlot(ctx context.Context, sessionID, userID string) (*PlotAdvance, error) {
	s, err := r.acquirePlaying(sessionID)
	if err != nil {
		return nil, err
	}
	if err := r.requireMember(s, userID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	summary := narrative.Summary{
		SessionID:   s.id,
		RuleSet:     string(s.ruleSet),
		PlotRef:     s.plotRef,
		PlotContent: s.plotContent,
		Progress:    s.progress,
	}
	for _, p := range s.players {
		if !p.Bound() {
			continue
		}
		if c, err := r.characters.Get(ctx, p.CharacterRID); err == nil {
			summary.CharacterNames = append(summary.CharacterNames, c.Name)
		}
	}
	s.mu.Unlock()

	fallback := &PlotAdvance{Text: r.fallbackText, ProgressMarker: summary.Progress}
	if r.narrator == nil {
		return fallback, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.narrativeTimeout)
	defer cancel()
	text, err := r.narrator.Advance(callCtx, summary)
	if err != nil {
		r.logger.Warn("剧情推进失败，使用兜底文本", zap.String("session_id", sessionID), zap.Error(err))
		return fallback, nil
	}

	s, err = r.acquirePlaying(sessionID)
	if err != nil {
		return &PlotAdvance{Text: text, ProgressMarker: summary.Progress}, nil
	}
	defer s.mu.Unlock()
	s.progress = ProgressAdvanced
	s.lastActivity = r.clock.Now()

	r.logger.Info("剧情推进", zap.String("session_id", s.id))
	return &PlotAdvance{Text: text, Advanced: true, ProgressMarker: s.progress}, nil
}
