// Package save 存档与读档，以及过期存档清理
package save

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/session"
	"github.com/wfunc/trpg-master/internal/repository"
)

// Gateway 存档网关
type Gateway struct {
	store    repository.SaveStore
	sessions *session.Registry
	isAdmin  func(userID string) bool
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	// mu 串行化读档，同一存档只能被读取一次
	mu sync.Mutex
}

// NewGateway 创建存档网关
func NewGateway(store repository.SaveStore, sessions *session.Registry, isAdmin func(string) bool, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Gateway{
		store:    store,
		sessions: sessions,
		isAdmin:  isAdmin,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Save 保存游戏中的会话
func (g *Gateway) Save(ctx context.Context, sessionID, requesterUserID, name string) (*game.SaveSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New(errors.ErrInvalidParam, "存档名不能为空")
	}
	snap, err := g.sessions.Snapshot(sessionID, requesterUserID)
	if err != nil {
		return nil, err
	}
	snap.SaveID = g.newID()
	snap.Name = name
	snap.Status = game.SnapshotIncomplete
	snap.SavedAt = g.now()

	if err := g.store.Put(ctx, snap.SaveID, snap); err != nil {
		return nil, errors.WrapAs(err, errors.ErrPersistence, "保存存档失败")
	}
	g.logger.Info("游戏已保存",
		zap.String("save_id", snap.SaveID),
		zap.String("name", name),
		zap.String("session_id", sessionID),
		zap.Int("players", len(snap.Players)))
	return snap, nil
}

// Load 读档：只有存档创建者或管理员可以读取，读取后存档标记为已使用
func (g *Gateway) Load(ctx context.Context, saveID, requesterUserID string) (*session.View, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.get(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if !g.canAccess(snap, requesterUserID) {
		return nil, errors.New(errors.ErrPermissionDenied, "只有存档创建者或管理员可以读档")
	}
	if snap.Status == game.SnapshotConsumed {
		return nil, errors.Newf(errors.ErrSnapshotUsed, "存档 %s 已被读取", saveID)
	}

	consumed := *snap
	consumed.Status = game.SnapshotConsumed
	if err := g.store.Put(ctx, saveID, &consumed); err != nil {
		return nil, errors.WrapAs(err, errors.ErrPersistence, "更新存档状态失败")
	}

	view, err := g.sessions.Restore(ctx, snap, requesterUserID)
	if err != nil {
		if putErr := g.store.Put(ctx, saveID, snap); putErr != nil {
			g.logger.Error("存档状态回滚失败", zap.String("save_id", saveID), zap.Error(putErr))
		}
		return nil, err
	}

	g.logger.Info("读档成功",
		zap.String("save_id", saveID),
		zap.String("by", requesterUserID),
		zap.String("session_id", view.SessionID))
	return view, nil
}

// Get 查询单个存档
func (g *Gateway) Get(ctx context.Context, saveID, requesterUserID string) (*game.SaveSnapshot, error) {
	snap, err := g.get(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if !g.canAccess(snap, requesterUserID) {
		return nil, errors.New(errors.ErrPermissionDenied, "只有存档创建者或管理员可以查看")
	}
	return snap, nil
}

// ListSaves 用户自己的存档，管理员可以看到全部，按保存时间倒序
func (g *Gateway) ListSaves(ctx context.Context, requesterUserID string) ([]*game.SaveSnapshot, error) {
	all, err := g.store.ListAll(ctx)
	if err != nil {
		return nil, errors.WrapAs(err, errors.ErrPersistence, "查询存档失败")
	}
	admin := g.isAdmin(requesterUserID)
	out := make([]*game.SaveSnapshot, 0, len(all))
	for _, s := range all {
		if admin || s.CreatorUserID == requesterUserID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Delete 删除存档
func (g *Gateway) Delete(ctx context.Context, saveID, requesterUserID string) error {
	snap, err := g.get(ctx, saveID)
	if err != nil {
		return err
	}
	if !g.canAccess(snap, requesterUserID) {
		return errors.New(errors.ErrPermissionDenied, "只有存档创建者或管理员可以删除")
	}
	if err := g.store.Delete(ctx, saveID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.WrapAs(err, errors.ErrPersistence, "删除存档失败")
	}
	g.logger.Info("存档删除", zap.String("save_id", saveID), zap.String("by", requesterUserID))
	return nil
}

func (g *Gateway) get(ctx context.Context, saveID string) (*game.SaveSnapshot, error) {
	snap, err := g.store.Get(ctx, saveID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Newf(errors.ErrNotFound, "存档 %s 不存在", saveID)
		}
		return nil, errors.WrapAs(err, errors.ErrPersistence, "查询存档失败")
	}
	return snap, nil
}

func (g *Gateway) canAccess(snap *game.SaveSnapshot, userID string) bool {
	return snap.CreatorUserID == userID || g.isAdmin(userID)
}
