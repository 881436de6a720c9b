package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
)

// memoryStore 内存键值存储，读写都做深拷贝
type memoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	what  string
	clone func(T) T
	less  func(a, b T) bool
}

func newMemoryStore[T any](what string, clone func(T) T, less func(a, b T) bool) *memoryStore[T] {
	return &memoryStore[T]{
		items: make(map[string]T),
		what:  what,
		clone: clone,
		less:  less,
	}
}

func (m *memoryStore[T]) put(key string, v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.clone(v)
}

func (m *memoryStore[T]) get(key string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		var zero T
		return zero, errors.Newf(errors.ErrNotFound, "%s %s 不存在", m.what, key)
	}
	return m.clone(v), nil
}

func (m *memoryStore[T]) delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return errors.Newf(errors.ErrNotFound, "%s %s 不存在", m.what, key)
	}
	delete(m.items, key)
	return nil
}

func (m *memoryStore[T]) list() []T {
	m.mu.RLock()
	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, m.clone(v))
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return m.less(out[i], out[j]) })
	return out
}

// MemoryCharacterStore 内存角色存储
type MemoryCharacterStore struct {
	store *memoryStore[*game.Character]
}

// NewMemoryCharacterStore 创建内存角色存储
func NewMemoryCharacterStore() *MemoryCharacterStore {
	return &MemoryCharacterStore{store: newMemoryStore("角色",
		func(c *game.Character) *game.Character { return c.Clone() },
		func(a, b *game.Character) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.RID < b.RID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})}
}

func (s *MemoryCharacterStore) Put(_ context.Context, rid string, c *game.Character) error {
	s.store.put(rid, c)
	return nil
}

func (s *MemoryCharacterStore) Get(_ context.Context, rid string) (*game.Character, error) {
	return s.store.get(rid)
}

func (s *MemoryCharacterStore) Delete(_ context.Context, rid string) error {
	return s.store.delete(rid)
}

func (s *MemoryCharacterStore) ListAll(_ context.Context) ([]*game.Character, error) {
	return s.store.list(), nil
}

// MemoryUserRegistry 内存用户注册表
type MemoryUserRegistry struct {
	store *memoryStore[*game.User]
}

// NewMemoryUserRegistry 创建内存用户注册表
func NewMemoryUserRegistry() *MemoryUserRegistry {
	return &MemoryUserRegistry{store: newMemoryStore("用户",
		func(u *game.User) *game.User { c := *u; return &c },
		func(a, b *game.User) bool { return a.UserID < b.UserID })}
}

func (s *MemoryUserRegistry) Put(_ context.Context, userID, uid string) error {
	registeredAt := time.Now()
	if existing, err := s.store.get(userID); err == nil {
		registeredAt = existing.RegisteredAt
	}
	s.store.put(userID, &game.User{UserID: userID, UID: uid, RegisteredAt: registeredAt})
	return nil
}

func (s *MemoryUserRegistry) Get(_ context.Context, userID string) (*game.User, error) {
	return s.store.get(userID)
}

func (s *MemoryUserRegistry) ListAll(_ context.Context) ([]*game.User, error) {
	return s.store.list(), nil
}

// MemorySaveStore 内存存档存储
type MemorySaveStore struct {
	store *memoryStore[*game.SaveSnapshot]
}

// NewMemorySaveStore 创建内存存档存储
func NewMemorySaveStore() *MemorySaveStore {
	return &MemorySaveStore{store: newMemoryStore("存档", cloneSnapshot,
		func(a, b *game.SaveSnapshot) bool { return a.SavedAt.Before(b.SavedAt) })}
}

func (s *MemorySaveStore) Put(_ context.Context, saveID string, snap *game.SaveSnapshot) error {
	s.store.put(saveID, snap)
	return nil
}

func (s *MemorySaveStore) Get(_ context.Context, saveID string) (*game.SaveSnapshot, error) {
	return s.store.get(saveID)
}

func (s *MemorySaveStore) Delete(_ context.Context, saveID string) error {
	return s.store.delete(saveID)
}

func (s *MemorySaveStore) ListAll(_ context.Context) ([]*game.SaveSnapshot, error) {
	return s.store.list(), nil
}

func cloneSnapshot(s *game.SaveSnapshot) *game.SaveSnapshot {
	out := *s
	out.Players = append([]game.SavedPlayer(nil), s.Players...)
	out.NPCs = make([]game.NPC, 0, len(s.NPCs))
	for i := range s.NPCs {
		out.NPCs = append(out.NPCs, *s.NPCs[i].Clone())
	}
	return &out
}
