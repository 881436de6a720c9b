// Package character 角色卡管理：创建、查询、删除、随机生成以及跨会话的占用登记
package character

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/repository"
)

// 角色初始值
const (
	DefaultHP         = 100
	DefaultMP         = 100
	DefaultProfession = "无"
	DefaultQuota      = 3

	ridAttempts = 20
)

// CreateRequest 创建角色参数
type CreateRequest struct {
	OwnerUID   string
	RuleSet    game.RuleSetID
	Name       string
	Profession string
	Attributes map[string]int
}

// Service 角色服务。占用表记录 rid -> sessionId，一个角色同一时刻只能被一个会话使用
type Service struct {
	store   repository.CharacterStore
	catalog *game.Catalog
	roller  game.Roller
	quota   int
	logger  *zap.Logger
	now     func() time.Time

	// mu 串行化所有写操作与占用表
	mu     sync.Mutex
	claims map[string]string
}

// NewService 创建角色服务
func NewService(store repository.CharacterStore, catalog *game.Catalog, roller game.Roller, quota int, logger *zap.Logger) *Service {
	if quota <= 0 {
		quota = DefaultQuota
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		roller:  roller,
		quota:   quota,
		logger:  logger,
		now:     time.Now,
		claims:  make(map[string]string),
	}
}

// Create 创建角色：检查配额与属性，先落库再返回
func (s *Service) Create(ctx context.Context, req CreateRequest) (*game.Character, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New(errors.ErrInvalidParam, "角色名不能为空")
	}
	rs, err := s.catalog.Get(req.RuleSet)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 配额先于属性校验
	count, err := s.countLocked(ctx, req.OwnerUID, rs.ID)
	if err != nil {
		return nil, err
	}
	if count >= s.quota {
		return nil, errors.Newf(errors.ErrQuotaExceeded, "已经创建了%d个%s角色，每个规则最多%d个",
			count, strings.ToUpper(string(rs.ID)), s.quota)
	}
	if err := rs.ValidateAttributes(req.Attributes); err != nil {
		return nil, err
	}

	c, err := s.newCharacterLocked(ctx, req.OwnerUID, rs, name, req.Profession, req.Attributes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("角色创建",
		zap.String("rid", c.RID),
		zap.String("owner", c.CreatorUID),
		zap.String("ruleset", string(c.RuleSet)))
	return c.Clone(), nil
}

// GenerateRandom 随机生成角色，属性在范围内均匀取值，不占用配额
func (s *Service) GenerateRandom(ctx context.Context, ownerUID string, ruleSet game.RuleSetID) (*game.Character, error) {
	rs, err := s.catalog.Get(ruleSet)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]int, len(rs.Attributes))
	for _, key := range rs.Attributes {
		attrs[key] = game.RollInRange(s.roller, rs.Ranges[key])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.newCharacterLocked(ctx, ownerUID, rs, "", "", attrs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("随机角色生成", zap.String("rid", c.RID), zap.String("owner", ownerUID))
	return c.Clone(), nil
}

// newCharacterLocked 分配rid并落库，name为空时以rid命名
func (s *Service) newCharacterLocked(ctx context.Context, ownerUID string, rs *game.RuleSet, name, profession string, attrs map[string]int) (*game.Character, error) {
	rid, err := s.allocateRIDLocked(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "随机角色" + rid
	}
	if strings.TrimSpace(profession) == "" {
		profession = DefaultProfession
	}
	mp := 0
	if rs.HasMP {
		mp = DefaultMP
	}

	c := &game.Character{
		RID:        rid,
		CreatorUID: ownerUID,
		RuleSet:    rs.ID,
		Name:       name,
		Profession: profession,
		Attributes: make(map[string]int, len(attrs)),
		HP:         DefaultHP,
		MP:         mp,
		Status:     game.CharacterStatusNormal,
		CreatedAt:  s.now(),
	}
	for k, v := range attrs {
		c.Attributes[k] = v
	}
	if err := s.store.Put(ctx, rid, c); err != nil {
		return nil, persistErr(err, "保存角色失败")
	}
	return c, nil
}

// allocateRIDLocked 生成未被占用的rid（R + 5位数字）
func (s *Service) allocateRIDLocked(ctx context.Context) (string, error) {
	for i := 0; i < ridAttempts; i++ {
		rid := fmt.Sprintf("R%d", 10000+rand.IntN(90000))
		_, err := s.store.Get(ctx, rid)
		if errors.Is(err, errors.ErrNotFound) {
			return rid, nil
		}
		if err != nil {
			return "", persistErr(err, "查询角色失败")
		}
	}
	return "", errors.New(errors.ErrUnknown, "无法分配角色ID")
}

// countLocked 统计某用户在某规则下的角色数
func (s *Service) countLocked(ctx context.Context, ownerUID string, ruleSet game.RuleSetID) (int, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, persistErr(err, "查询角色失败")
	}
	n := 0
	for _, c := range all {
		if c.CreatorUID == ownerUID && c.RuleSet == ruleSet {
			n++
		}
	}
	return n, nil
}

// Get 按rid查询角色
func (s *Service) Get(ctx context.Context, rid string) (*game.Character, error) {
	c, err := s.store.Get(ctx, rid)
	if err != nil {
		return nil, persistErr(err, "查询角色失败")
	}
	return c, nil
}

// ListByOwner 某用户的全部角色，按创建时间排序
func (s *Service) ListByOwner(ctx context.Context, ownerUID string) ([]*game.Character, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, persistErr(err, "查询角色失败")
	}
	out := make([]*game.Character, 0)
	for _, c := range all {
		if c.CreatorUID == ownerUID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete 删除角色，只有创建者可以删除，被会话占用时失败
func (s *Service) Delete(ctx context.Context, rid, requesterUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(ctx, rid)
	if err != nil {
		return persistErr(err, "查询角色失败")
	}
	if c.CreatorUID != requesterUID {
		return errors.New(errors.ErrPermissionDenied, "不是该角色的创建者")
	}
	if sid, ok := s.claims[rid]; ok {
		return errors.Newf(errors.ErrCharacterInUse, "角色正在剧本 %s 中使用", sid)
	}
	if err := s.store.Delete(ctx, rid); err != nil {
		return persistErr(err, "删除角色失败")
	}
	s.logger.Info("角色删除", zap.String("rid", rid), zap.String("owner", requesterUID))
	return nil
}

// Remove 会话踢人时的级联删除，先释放本会话的占用，不检查创建者
func (s *Service) Remove(ctx context.Context, rid, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sid, ok := s.claims[rid]; ok && sid != sessionID {
		return errors.Newf(errors.ErrCharacterInUse, "角色正在剧本 %s 中使用", sid)
	}
	if err := s.store.Delete(ctx, rid); err != nil {
		return persistErr(err, "删除角色失败")
	}
	delete(s.claims, rid)
	s.logger.Info("角色随玩家移除", zap.String("rid", rid), zap.String("session_id", sessionID))
	return nil
}

// Claim 登记会话占用角色，已被其他会话占用时返回状态冲突
func (s *Service) Claim(ctx context.Context, rid, sessionID string) (*game.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(ctx, rid)
	if err != nil {
		return nil, persistErr(err, "查询角色失败")
	}
	if sid, ok := s.claims[rid]; ok && sid != sessionID {
		return nil, errors.Newf(errors.ErrMismatchedState, "角色 %s 已在其他剧本中使用", rid)
	}
	s.claims[rid] = sessionID
	return c, nil
}

// Release 释放占用，只释放本会话持有的
func (s *Service) Release(rid, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[rid] == sessionID {
		delete(s.claims, rid)
	}
}

// ClaimedBy 查询占用角色的会话
func (s *Service) ClaimedBy(rid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.claims[rid]
	return sid, ok
}

// GiveItem 给角色追加物品
func (s *Service) GiveItem(ctx context.Context, rid, name string, quantity int) (*game.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New(errors.ErrInvalidParam, "物品名不能为空")
	}
	if quantity <= 0 {
		return nil, errors.New(errors.ErrInvalidParam, "物品数量必须大于0")
	}
	return s.update(ctx, rid, func(c *game.Character) {
		c.Items = append(c.Items, game.Item{Name: name, Quantity: quantity, ObtainedAt: s.now()})
	})
}

// AdjustHP 调整生命值，最低为0
func (s *Service) AdjustHP(ctx context.Context, rid string, delta int) (*game.Character, error) {
	return s.update(ctx, rid, func(c *game.Character) {
		c.HP = max(c.HP+delta, 0)
	})
}

// update 读改写，先落库成功才算提交
func (s *Service) update(ctx context.Context, rid string, fn func(c *game.Character)) (*game.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(ctx, rid)
	if err != nil {
		return nil, persistErr(err, "查询角色失败")
	}
	fn(c)
	if err := s.store.Put(ctx, rid, c); err != nil {
		return nil, persistErr(err, "保存角色失败")
	}
	return c, nil
}

// persistErr 存储错误统一归为持久化错误，NotFound 原样返回
func persistErr(err error, msg string) error {
	if errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return errors.WrapAs(err, errors.ErrPersistence, msg)
}
