package repository

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 缓存层，为空时直接访问数据库
	cache       Cache
	cachePrefix string
	cacheTTL    time.Duration
	logger      *zap.Logger

	// 仓储实例（使用懒加载）
	characterOnce sync.Once
	characters    CharacterStore

	userOnce sync.Once
	users    UserRegistry

	saveOnce sync.Once
	saves    SaveStore
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db, logger: zap.NewNop()}
}

// WithCache 在数据库前挂一层缓存，需在首次获取仓储前调用
func (m *Manager) WithCache(cache Cache, prefix string, ttl time.Duration, logger *zap.Logger) *Manager {
	m.cache = cache
	m.cachePrefix = prefix
	m.cacheTTL = ttl
	m.logger = nopIfNil(logger)
	return m
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Characters 获取角色仓储
func (m *Manager) Characters() CharacterStore {
	m.characterOnce.Do(func() {
		m.characters = NewCharacterRepository(m.db)
		if m.cache != nil {
			m.characters = NewCachedCharacterStore(m.characters, m.cache, m.cachePrefix, m.cacheTTL, m.logger)
		}
	})
	return m.characters
}

// Users 获取用户注册表
func (m *Manager) Users() UserRegistry {
	m.userOnce.Do(func() {
		m.users = NewUserRepository(m.db)
		if m.cache != nil {
			m.users = NewCachedUserRegistry(m.users, m.cache, m.cachePrefix, m.cacheTTL, m.logger)
		}
	})
	return m.users
}

// Saves 获取存档仓储
func (m *Manager) Saves() SaveStore {
	m.saveOnce.Do(func() {
		m.saves = NewSaveRepository(m.db)
		if m.cache != nil {
			m.saves = NewCachedSaveStore(m.saves, m.cache, m.cachePrefix, m.cacheTTL, m.logger)
		}
	})
	return m.saves
}
