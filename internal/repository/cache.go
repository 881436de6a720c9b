package repository

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
)

// Cache 键值缓存，未命中时 Get 返回 ErrNotFound
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// cacheLayer 读穿缓存：写先落存储再写缓存，缓存失败不影响主流程
type cacheLayer[T any] struct {
	cache  Cache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func (c *cacheLayer[T]) key(id string) string {
	return c.prefix + id
}

func (c *cacheLayer[T]) load(ctx context.Context, id string) (T, bool) {
	var v T
	raw, err := c.cache.Get(ctx, c.key(id))
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			c.logger.Debug("读取缓存失败", zap.String("key", c.key(id)), zap.Error(err))
		}
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("缓存数据损坏", zap.String("key", c.key(id)), zap.Error(err))
		return v, false
	}
	return v, true
}

func (c *cacheLayer[T]) store(ctx context.Context, id string, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.key(id), raw, c.ttl); err != nil {
		c.logger.Debug("写入缓存失败", zap.String("key", c.key(id)), zap.Error(err))
	}
}

func (c *cacheLayer[T]) evict(ctx context.Context, id string) {
	if err := c.cache.Del(ctx, c.key(id)); err != nil {
		c.logger.Debug("删除缓存失败", zap.String("key", c.key(id)), zap.Error(err))
	}
}

// CachedCharacterStore 带缓存的角色存储
type CachedCharacterStore struct {
	storage CharacterStore
	layer   *cacheLayer[*game.Character]
}

// NewCachedCharacterStore 创建带缓存的角色存储
func NewCachedCharacterStore(storage CharacterStore, cache Cache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedCharacterStore {
	return &CachedCharacterStore{
		storage: storage,
		layer:   &cacheLayer[*game.Character]{cache: cache, prefix: prefix + "character:", ttl: ttl, logger: nopIfNil(logger)},
	}
}

func (s *CachedCharacterStore) Put(ctx context.Context, rid string, c *game.Character) error {
	if err := s.storage.Put(ctx, rid, c); err != nil {
		return err
	}
	s.layer.store(ctx, rid, c)
	return nil
}

func (s *CachedCharacterStore) Get(ctx context.Context, rid string) (*game.Character, error) {
	if c, ok := s.layer.load(ctx, rid); ok {
		return c, nil
	}
	c, err := s.storage.Get(ctx, rid)
	if err != nil {
		return nil, err
	}
	s.layer.store(ctx, rid, c)
	return c, nil
}

func (s *CachedCharacterStore) Delete(ctx context.Context, rid string) error {
	if err := s.storage.Delete(ctx, rid); err != nil {
		return err
	}
	s.layer.evict(ctx, rid)
	return nil
}

func (s *CachedCharacterStore) ListAll(ctx context.Context) ([]*game.Character, error) {
	return s.storage.ListAll(ctx)
}

// CachedUserRegistry 带缓存的用户注册表
type CachedUserRegistry struct {
	storage UserRegistry
	layer   *cacheLayer[*game.User]
}

// NewCachedUserRegistry 创建带缓存的用户注册表
func NewCachedUserRegistry(storage UserRegistry, cache Cache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedUserRegistry {
	return &CachedUserRegistry{
		storage: storage,
		layer:   &cacheLayer[*game.User]{cache: cache, prefix: prefix + "user:", ttl: ttl, logger: nopIfNil(logger)},
	}
}

func (s *CachedUserRegistry) Put(ctx context.Context, userID, uid string) error {
	if err := s.storage.Put(ctx, userID, uid); err != nil {
		return err
	}
	// 注册时间由存储层生成，直接失效缓存
	s.layer.evict(ctx, userID)
	return nil
}

func (s *CachedUserRegistry) Get(ctx context.Context, userID string) (*game.User, error) {
	if u, ok := s.layer.load(ctx, userID); ok {
		return u, nil
	}
	u, err := s.storage.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.layer.store(ctx, userID, u)
	return u, nil
}

func (s *CachedUserRegistry) ListAll(ctx context.Context) ([]*game.User, error) {
	return s.storage.ListAll(ctx)
}

// CachedSaveStore 带缓存的存档存储
type CachedSaveStore struct {
	storage SaveStore
	layer   *cacheLayer[*game.SaveSnapshot]
}

// NewCachedSaveStore 创建带缓存的存档存储
func NewCachedSaveStore(storage SaveStore, cache Cache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedSaveStore {
	return &CachedSaveStore{
		storage: storage,
		layer:   &cacheLayer[*game.SaveSnapshot]{cache: cache, prefix: prefix + "save:", ttl: ttl, logger: nopIfNil(logger)},
	}
}

func (s *CachedSaveStore) Put(ctx context.Context, saveID string, snap *game.SaveSnapshot) error {
	if err := s.storage.Put(ctx, saveID, snap); err != nil {
		return err
	}
	s.layer.store(ctx, saveID, snap)
	return nil
}

func (s *CachedSaveStore) Get(ctx context.Context, saveID string) (*game.SaveSnapshot, error) {
	if snap, ok := s.layer.load(ctx, saveID); ok {
		return snap, nil
	}
	snap, err := s.storage.Get(ctx, saveID)
	if err != nil {
		return nil, err
	}
	s.layer.store(ctx, saveID, snap)
	return snap, nil
}

func (s *CachedSaveStore) Delete(ctx context.Context, saveID string) error {
	if err := s.storage.Delete(ctx, saveID); err != nil {
		return err
	}
	s.layer.evict(ctx, saveID)
	return nil
}

func (s *CachedSaveStore) ListAll(ctx context.Context) ([]*game.SaveSnapshot, error) {
	return s.storage.ListAll(ctx)
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
