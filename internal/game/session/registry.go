// Package session 会话注册表：会话生命周期、玩家席位、计时器以及会话内的检定、战斗和剧情推进
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
	"github.com/wfunc/trpg-master/internal/game/check"
	"github.com/wfunc/trpg-master/internal/game/combat"
	"github.com/wfunc/trpg-master/internal/narrative"
	"github.com/wfunc/trpg-master/internal/plot"
)

// 剧情进度标记
const (
	ProgressStart    = "开始"
	ProgressAdvanced = "推进剧情"
)

const (
	idAttempts              = 50
	defaultNarrativeTimeout = 2 * time.Minute
	defaultNPCHP            = 50
)

// RegistryConfig 注册表依赖与参数
type RegistryConfig struct {
	Game       config.GameConfig
	Characters *character.Service
	Accounts   *account.Service
	Plots      plot.Source
	Narrator   narrative.Collaborator
	Catalog    *game.Catalog
	Roller     game.Roller
	Clock      Clock
	Logger     *zap.Logger

	// IsAdmin 管理员判断，配置热更新后立即生效
	IsAdmin          func(userID string) bool
	FallbackText     string
	NarrativeTimeout time.Duration
}

// Registry 会话注册表。锁顺序：会话锁 -> 注册表锁 -> 角色占用表
type Registry struct {
	game       config.GameConfig
	characters *character.Service
	accounts   *account.Service
	plots      plot.Source
	narrator   narrative.Collaborator
	catalog    *game.Catalog
	roller     game.Roller
	resolver   *check.Resolver
	clock      Clock
	logger     *zap.Logger
	lifecycle  *Lifecycle

	isAdmin          func(userID string) bool
	fallbackText     string
	narrativeTimeout time.Duration

	mu        sync.RWMutex
	sessions  map[string]*Session
	userIndex map[string]string // userId -> sessionId
	closed    bool
}

// NewRegistry 创建会话注册表
func NewRegistry(cfg *RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	roller := cfg.Roller
	if roller == nil {
		roller = game.NewRandomRoller()
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = game.NewCatalog()
	}
	isAdmin := cfg.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	timeout := cfg.NarrativeTimeout
	if timeout <= 0 {
		timeout = defaultNarrativeTimeout
	}

	r := &Registry{
		game:             cfg.Game,
		characters:       cfg.Characters,
		accounts:         cfg.Accounts,
		plots:            cfg.Plots,
		narrator:         cfg.Narrator,
		catalog:          catalog,
		roller:           roller,
		resolver:         check.NewResolver(catalog, roller),
		clock:            clock,
		logger:           logger,
		isAdmin:          isAdmin,
		fallbackText:     cfg.FallbackText,
		narrativeTimeout: timeout,
		sessions:         make(map[string]*Session),
		userIndex:        make(map[string]string),
	}
	r.lifecycle = newLifecycle(logger, r.autoAssign)
	r.lifecycle.onEnter = r.onEnter
	return r
}

// Start 创建剧本会话，进入召集阶段并启动召集计时器
func (r *Registry) Start(ctx context.Context, creatorUserID string, ruleSet game.RuleSetID, plotRef string, maxPlayers int) (*View, error) {
	if _, err := r.accounts.Lookup(ctx, creatorUserID); err != nil {
		return nil, err
	}
	if _, err := r.catalog.Get(ruleSet); err != nil {
		return nil, err
	}
	content, err := r.plots.Load(ctx, plotRef)
	if err != nil {
		return nil, err
	}

	s := r.newSession(creatorUserID, ruleSet, plotRef, content, r.clampPlayers(maxPlayers))
	s.progress = ProgressStart

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := r.insert(s); err != nil {
		return nil, err
	}
	r.scheduleLocked(s, game.PhaseRecruiting, r.game.RecruitTimeout)

	r.logger.Info("剧本开始召集",
		zap.String("session_id", s.id),
		zap.String("creator", creatorUserID),
		zap.String("ruleset", string(ruleSet)),
		zap.String("plot", plotRef),
		zap.Int("max_players", s.maxPlayers))
	return s.view(), nil
}

// Restore 从存档创建新会话，新会话处于召集阶段，原玩家重新加入时自动绑定原角色
func (r *Registry) Restore(ctx context.Context, snap *game.SaveSnapshot, requesterUserID string) (*View, error) {
	if _, err := r.accounts.Lookup(ctx, requesterUserID); err != nil {
		return nil, err
	}
	if _, err := r.catalog.Get(snap.RuleSet); err != nil {
		return nil, err
	}
	content, err := r.plots.Load(ctx, snap.PlotRef)
	if err != nil {
		return nil, err
	}

	s := r.newSession(requesterUserID, snap.RuleSet, snap.PlotRef, content, r.clampPlayers(snap.MaxPlayers))
	s.progress = snap.ProgressMarker
	if s.progress == "" {
		s.progress = ProgressStart
	}
	s.restoredFrom = snap.SaveID
	s.originalPlayers = append([]game.SavedPlayer(nil), snap.Players...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := r.insert(s); err != nil {
		return nil, err
	}
	for i := range snap.NPCs {
		n := snap.NPCs[i].Clone()
		n.SessionID = s.id
		s.npcs = append(s.npcs, n)
	}
	r.scheduleLocked(s, game.PhaseRecruiting, r.game.RecruitTimeout)

	r.logger.Info("读档创建剧本",
		zap.String("session_id", s.id),
		zap.String("save_id", snap.SaveID),
		zap.String("creator", requesterUserID),
		zap.Int("original_players", len(s.originalPlayers)))
	return s.view(), nil
}

// Join 加入召集中的剧本
func (r *Registry) Join(ctx context.Context, sessionID, userID string) (*View, error) {
	user, err := r.accounts.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.phase != game.PhaseRecruiting {
		return nil, errors.Newf(errors.ErrWrongPhase, "剧本 %s 不在招募阶段", s.id)
	}
	if p, _ := s.player(userID); p != nil {
		return nil, errors.New(errors.ErrAlreadyJoined, "您已经加入了这个剧本")
	}
	if len(s.players) >= s.maxPlayers {
		return nil, errors.Newf(errors.ErrSessionFull, "剧本 %s 已满 %d 人", s.id, s.maxPlayers)
	}
	if err := r.indexUser(userID, s.id); err != nil {
		return nil, err
	}

	p := &game.Player{
		UserID:   userID,
		UID:      user.UID,
		Status:   game.PlayerStatusAlive,
		JoinedAt: r.clock.Now(),
	}
	s.players = append(s.players, p)
	r.rebindReturning(ctx, s, p)
	s.lastActivity = r.clock.Now()

	r.logger.Info("玩家加入",
		zap.String("session_id", s.id),
		zap.String("user_id", userID),
		zap.Int("players", len(s.players)),
		zap.String("rid", p.CharacterRID))
	return s.view(), nil
}

// rebindReturning 读档会话中原玩家自动绑定原角色，失败时保持未绑定
func (r *Registry) rebindReturning(ctx context.Context, s *Session, p *game.Player) {
	for _, orig := range s.originalPlayers {
		if orig.UserID != p.UserID || orig.CharacterRID == "" {
			continue
		}
		c, err := r.characters.Claim(ctx, orig.CharacterRID, s.id)
		if err != nil {
			r.logger.Warn("原角色无法自动绑定",
				zap.String("session_id", s.id),
				zap.String("user_id", p.UserID),
				zap.String("rid", orig.CharacterRID),
				zap.Error(err))
			return
		}
		if c.RuleSet != s.ruleSet {
			r.characters.Release(c.RID, s.id)
			return
		}
		p.CharacterRID = c.RID
		p.Ready = true
		return
	}
}

// AttachCharacter 玩家绑定自己的角色，全员就绪时进入游戏
func (r *Registry) AttachCharacter(ctx context.Context, sessionID, userID, rid string) (*View, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.phase != game.PhaseRecruiting && s.phase != game.PhasePreparing {
		return nil, errors.Newf(errors.ErrWrongPhase, "剧本 %s 当前阶段不能绑定角色", s.id)
	}
	p, _ := s.player(userID)
	if p == nil {
		return nil, errors.Newf(errors.ErrNotInSession, "您没有加入剧本 %s", s.id)
	}
	c, err := r.characters.Get(ctx, rid)
	if err != nil {
		return nil, err
	}
	if c.CreatorUID != p.UID {
		return nil, errors.Newf(errors.ErrPermissionDenied, "角色 %s 不属于您", rid)
	}
	if c.RuleSet != s.ruleSet {
		return nil, errors.Newf(errors.ErrMismatchedState, "角色规则 %s 与剧本规则 %s 不一致", c.RuleSet, s.ruleSet)
	}
	if _, err := r.characters.Claim(ctx, rid, s.id); err != nil {
		return nil, err
	}
	if p.Bound() && p.CharacterRID != rid {
		r.characters.Release(p.CharacterRID, s.id)
	}
	p.CharacterRID = rid
	p.Ready = true
	s.lastActivity = r.clock.Now()

	r.logger.Info("角色绑定",
		zap.String("session_id", s.id),
		zap.String("user_id", userID),
		zap.String("rid", rid))

	if s.phase == game.PhasePreparing && s.allReady() {
		if err := r.lifecycle.Trigger(ctx, s, EventAllReady); err != nil {
			return nil, err
		}
	}
	return s.view(), nil
}

// Skip 团长或管理员跳过准备阶段，未绑定的玩家自动分配角色
func (r *Registry) Skip(ctx context.Context, sessionID, requesterUserID string) (*View, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	if err := r.lifecycle.Trigger(ctx, s, EventSkip); err != nil {
		return nil, err
	}
	return s.view(), nil
}

// End 团长或管理员结束剧本
func (r *Registry) End(ctx context.Context, sessionID, requesterUserID string) error {
	s, err := r.acquire(sessionID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return err
	}
	return r.lifecycle.Trigger(ctx, s, EventEnd)
}

// Kick 移出玩家，deleteCharacter 为 true 时连带删除其角色
func (r *Registry) Kick(ctx context.Context, sessionID, requesterUserID, targetUserID string, deleteCharacter bool) (*View, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	p, idx := s.player(targetUserID)
	if p == nil {
		return nil, errors.Newf(errors.ErrNotInSession, "玩家 %s 不在剧本中", targetUserID)
	}

	if p.Bound() {
		if deleteCharacter {
			if err := r.characters.Remove(ctx, p.CharacterRID, s.id); err != nil && !errors.Is(err, errors.ErrNotFound) {
				return nil, err
			}
		} else {
			r.characters.Release(p.CharacterRID, s.id)
		}
		s.combat.Remove(combat.KindPlayer, p.CharacterRID)
	}
	p.Status = game.PlayerStatusRemoved
	s.players = append(s.players[:idx], s.players[idx+1:]...)
	r.unindexUser(targetUserID, s.id)
	s.lastActivity = r.clock.Now()

	r.logger.Info("玩家被移出",
		zap.String("session_id", s.id),
		zap.String("by", requesterUserID),
		zap.String("user_id", targetUserID),
		zap.String("rid", p.CharacterRID),
		zap.Bool("delete_character", deleteCharacter))

	if s.phase == game.PhasePreparing && s.allReady() {
		if err := r.lifecycle.Trigger(ctx, s, EventAllReady); err != nil {
			return nil, err
		}
	}
	return s.view(), nil
}

// Get 查询会话
func (r *Registry) Get(sessionID string) (*View, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

// SessionOf 查询用户所在的会话
func (r *Registry) SessionOf(userID string) (*View, error) {
	r.mu.RLock()
	sid, ok := r.userIndex[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrNotInSession, "您没有在活跃的剧本中")
	}
	return r.Get(sid)
}

// List 所有活跃会话，按创建时间排序
func (r *Registry) List() []*View {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	views := make([]*View, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if s.phase != game.PhaseArchived {
			views = append(views, s.view())
		}
		s.mu.Unlock()
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].CreatedAt.Before(views[j].CreatedAt) })
	return views
}

// Snapshot 生成存档投影，只在游戏阶段允许
func (r *Registry) Snapshot(sessionID, requesterUserID string) (*game.SaveSnapshot, error) {
	s, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := r.requirePrivileged(s, requesterUserID); err != nil {
		return nil, err
	}
	if s.phase != game.PhasePlaying {
		return nil, errors.Newf(errors.ErrWrongPhase, "剧本 %s 不在游戏阶段", s.id)
	}

	snap := &game.SaveSnapshot{
		SessionID:      s.id,
		CreatorUserID:  s.creator,
		RuleSet:        s.ruleSet,
		PlotRef:        s.plotRef,
		MaxPlayers:     s.maxPlayers,
		Players:        make([]game.SavedPlayer, 0, len(s.players)),
		NPCs:           make([]game.NPC, 0, len(s.npcs)),
		ProgressMarker: s.progress,
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, game.SavedPlayer{UserID: p.UserID, UID: p.UID, CharacterRID: p.CharacterRID})
	}
	for _, n := range s.npcs {
		snap.NPCs = append(snap.NPCs, *n.Clone())
	}
	return snap, nil
}

// Close 停止所有计时器，进程退出时调用
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.stopTimers()
		s.mu.Unlock()
	}
	r.logger.Info("会话注册表已关闭", zap.Int("sessions", len(sessions)))
}

func (r *Registry) newSession(creator string, ruleSet game.RuleSetID, plotRef, content string, maxPlayers int) *Session {
	now := r.clock.Now()
	return &Session{
		ruleSet:      ruleSet,
		plotRef:      plotRef,
		plotContent:  plot.Truncate(content, r.game.PlotMaxRunes),
		maxPlayers:   maxPlayers,
		creator:      creator,
		phase:        game.PhaseRecruiting,
		combat:       combat.NewEngine(r.roller, r.logger),
		createdAt:    now,
		lastActivity: now,
	}
}

// clampPlayers 人数默认值与上限
func (r *Registry) clampPlayers(n int) int {
	if n <= 0 {
		n = r.game.DefaultPlayers
	}
	if n <= 0 {
		n = 4
	}
	if r.game.MaxPlayers > 0 && n > r.game.MaxPlayers {
		n = r.game.MaxPlayers
	}
	return n
}

// insert 分配6位会话ID并登记
func (r *Registry) insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New(errors.ErrCanceled, "会话注册表已关闭")
	}
	for i := 0; i < idAttempts; i++ {
		id := fmt.Sprintf("%d", 100000+rand.IntN(900000))
		if _, exists := r.sessions[id]; !exists {
			s.id = id
			r.sessions[id] = s
			return nil
		}
	}
	return errors.New(errors.ErrUnknown, "无法分配剧本ID")
}

// acquire 查找会话并加锁，已归档视为不存在
func (r *Registry) acquire(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "剧本 %s 不存在", sessionID)
	}
	s.mu.Lock()
	if s.phase == game.PhaseArchived {
		s.mu.Unlock()
		return nil, errors.Newf(errors.ErrNotFound, "剧本 %s 已结束", sessionID)
	}
	return s, nil
}

// indexUser 登记用户所在会话，一个用户同时只能在一个会话中
func (r *Registry) indexUser(userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.userIndex[userID]; ok && sid != sessionID {
		return errors.Newf(errors.ErrInAnotherSession, "您已在剧本 %s 中", sid)
	}
	r.userIndex[userID] = sessionID
	return nil
}

func (r *Registry) unindexUser(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userIndex[userID] == sessionID {
		delete(r.userIndex, userID)
	}
}

func (r *Registry) privileged(s *Session, userID string) bool {
	return userID == s.creator || r.isAdmin(userID)
}

func (r *Registry) requirePrivileged(s *Session, userID string) error {
	if !r.privileged(s, userID) {
		return errors.New(errors.ErrPermissionDenied, "只有团长或管理员可以执行该操作")
	}
	return nil
}

// requireMember 玩家本人或团长、管理员
func (r *Registry) requireMember(s *Session, userID string) error {
	if p, _ := s.player(userID); p != nil || r.privileged(s, userID) {
		return nil
	}
	return errors.Newf(errors.ErrNotInSession, "您没有加入剧本 %s", s.id)
}

// scheduleLocked 启动阶段计时器，到期时阶段不符则不做任何事
func (r *Registry) scheduleLocked(s *Session, expect game.Phase, d time.Duration) {
	id := s.id
	t := r.clock.AfterFunc(d, func() { r.onTimer(id, expect) })
	s.timers = append(s.timers, t)
}

func (r *Registry) onTimer(sessionID string, expect game.Phase) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != expect {
		r.logger.Debug("计时器过期，阶段已变化",
			zap.String("session_id", sessionID),
			zap.String("expect", string(expect)),
			zap.String("phase", string(s.phase)))
		return
	}

	ctx := context.Background()
	var err error
	switch expect {
	case game.PhaseRecruiting:
		if len(s.players) == 0 {
			r.logger.Info("召集超时无人加入，剧本取消", zap.String("session_id", sessionID))
			err = r.lifecycle.Trigger(ctx, s, EventRecruitEmpty)
		} else {
			err = r.lifecycle.Trigger(ctx, s, EventRecruitClosed)
		}
	case game.PhasePreparing:
		err = r.lifecycle.Trigger(ctx, s, EventPrepareTimeout)
	}
	if err != nil {
		r.logger.Error("计时器转换失败", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// onEnter 进入新阶段
func (r *Registry) onEnter(ctx context.Context, s *Session, _, to game.Phase) {
	s.lastActivity = r.clock.Now()
	switch to {
	case game.PhasePreparing:
		r.scheduleLocked(s, game.PhasePreparing, r.game.PrepareTimeout)
		if s.allReady() {
			if err := r.lifecycle.Trigger(ctx, s, EventAllReady); err != nil {
				r.logger.Error("进入游戏失败", zap.String("session_id", s.id), zap.Error(err))
			}
		}
	case game.PhaseArchived:
		r.archiveLocked(s)
	}
}

// archiveLocked 释放角色占用、丢弃战斗并从注册表移除
func (r *Registry) archiveLocked(s *Session) {
	s.stopTimers()
	s.combat.Reset()
	for _, p := range s.players {
		if p.Bound() {
			r.characters.Release(p.CharacterRID, s.id)
		}
	}

	r.mu.Lock()
	delete(r.sessions, s.id)
	for _, p := range s.players {
		if r.userIndex[p.UserID] == s.id {
			delete(r.userIndex, p.UserID)
		}
	}
	r.mu.Unlock()

	r.logger.Info("剧本归档", zap.String("session_id", s.id), zap.Int("players", len(s.players)))
}

// autoAssign 为未绑定的玩家分配角色：优先原存档中未被占用的角色，否则随机生成
func (r *Registry) autoAssign(ctx context.Context, s *Session) error {
	bound := s.boundRIDs()
	for _, p := range s.players {
		if p.Bound() {
			p.Ready = true
			continue
		}
		rid, err := r.assignOne(ctx, s, p, bound)
		if err != nil {
			return err
		}
		p.CharacterRID = rid
		p.Ready = true
		bound[rid] = true

		r.logger.Info("自动分配角色",
			zap.String("session_id", s.id),
			zap.String("user_id", p.UserID),
			zap.String("rid", rid))
	}
	return nil
}

func (r *Registry) assignOne(ctx context.Context, s *Session, p *game.Player, bound map[string]bool) (string, error) {
	for _, orig := range s.originalPlayers {
		if orig.CharacterRID == "" || bound[orig.CharacterRID] {
			continue
		}
		c, err := r.characters.Claim(ctx, orig.CharacterRID, s.id)
		if err != nil {
			continue
		}
		if c.RuleSet != s.ruleSet {
			r.characters.Release(c.RID, s.id)
			continue
		}
		return c.RID, nil
	}

	c, err := r.characters.GenerateRandom(ctx, p.UID, s.ruleSet)
	if err != nil {
		return "", err
	}
	if _, err := r.characters.Claim(ctx, c.RID, s.id); err != nil {
		return "", err
	}
	return c.RID, nil
}
