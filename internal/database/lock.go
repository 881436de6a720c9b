package database

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/logger"
)

// 迁移锁参数，多个进程共用同一个SQLite文件时串行迁移
var (
	lockAttempts = 30
	lockWait     = time.Second
	lockStaleAge = 5 * time.Minute
)

// withMigrationLock 持有 <db>.migration.lock 执行 fn；dbPath 为空时不加锁
func withMigrationLock(dbPath string, fn func() error) error {
	if dbPath == "" {
		return fn()
	}
	lockPath := dbPath + ".migration.lock"
	f, err := acquireLock(lockPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(lockPath)
		logger.Debug("释放迁移锁", zap.String("lock", lockPath))
	}()
	return fn()
}

// acquireLock 独占创建锁文件，超过 lockStaleAge 的锁视为残留直接清掉
func acquireLock(lockPath string) (*os.File, error) {
	for i := 0; i < lockAttempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return f, nil
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAge {
			logger.Warn("迁移锁过期，删除后重试", zap.String("lock", lockPath))
			_ = os.Remove(lockPath)
			continue
		}
		time.Sleep(lockWait)
	}
	return nil, errors.Newf(errors.ErrDatabaseConnect, "无法获取迁移锁 %s，可能有其他进程正在迁移", lockPath)
}

// sqliteFile 当前连接的SQLite文件路径，内存库和其他驱动返回空
func sqliteFile() string {
	if DB == nil || DB.Dialector.Name() != "sqlite" {
		return ""
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return ""
	}
	var (
		seq        int
		name, file string
	)
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}
