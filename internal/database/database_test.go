package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/models"
)

func TestInitAndMigrate(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(dir, "nested", "trpg.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}

	require.NoError(t, Init(cfg))
	t.Cleanup(func() { _ = Close() })
	assert.True(t, IsConnected())

	// 目录自动创建
	_, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)

	require.NoError(t, AutoMigrate())
	for _, m := range models.AllModels() {
		assert.True(t, GetDB().Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, GetDB().Migrator().HasIndex(&models.CharacterRecord{}, "idx_characters_owner_ruleset"))

	// 锁文件在迁移结束后释放
	_, err = os.Stat(cfg.DSN + ".migration.lock")
	assert.True(t, os.IsNotExist(err))

	// 重复迁移是幂等的
	require.NoError(t, AutoMigrate())

	require.NoError(t, Close())
	assert.False(t, IsConnected())
}

func TestInit_UnknownDriver(t *testing.T) {
	err := Init(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigValidate))
}

func TestEnsureSQLiteDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureSQLiteDir("file:"+filepath.Join(dir, "a", "b.db")+"?cache=shared"))
	_, err := os.Stat(filepath.Join(dir, "a"))
	assert.NoError(t, err)

	assert.NoError(t, ensureSQLiteDir(":memory:"))
	assert.NoError(t, ensureSQLiteDir("local.db"))
}

func TestMigrationLock(t *testing.T) {
	lockAttempts, lockWait = 2, 10*time.Millisecond
	t.Cleanup(func() { lockAttempts, lockWait = 30, time.Second })

	db := filepath.Join(t.TempDir(), "trpg.db")
	lockPath := db + ".migration.lock"

	ran := false
	require.NoError(t, withMigrationLock(db, func() error {
		_, err := os.Stat(lockPath)
		assert.NoError(t, err)
		ran = true
		return nil
	}))
	assert.True(t, ran)
	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))

	// 被其他进程持有时放弃
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	err = withMigrationLock(db, func() error { return nil })
	assert.True(t, errors.Is(err, errors.ErrDatabaseConnect))

	// 残留的旧锁会被清理
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))
	assert.NoError(t, withMigrationLock(db, func() error { return nil }))

	assert.NoError(t, withMigrationLock("", func() error { return nil }))
}
