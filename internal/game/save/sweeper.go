package save

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/repository"
)

// Sweeper 定期删除超过保留期的存档
type Sweeper struct {
	store    repository.SaveStore
	horizon  time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper 创建存档清理器
func NewSweeper(store repository.SaveStore, cfg config.RetentionConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = 10 * 24 * time.Hour
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		horizon:  horizon,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run 启动时清理一次，之后按间隔清理，ctx 取消时返回
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("存档清理启动", zap.Duration("horizon", s.horizon), zap.Duration("interval", s.interval))
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("存档清理停止")
			return nil
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("存档清理失败", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("已清理旧存档", zap.Int("count", n))
	}
}

// SweepOnce 删除保存时间早于保留期的存档，返回删除数量
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, errors.WrapAs(err, errors.ErrPersistence, "查询存档失败")
	}
	cutoff := s.now().Add(-s.horizon)
	deleted := 0
	for _, snap := range all {
		if !snap.SavedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, snap.SaveID); err != nil && !errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("删除存档失败", zap.String("save_id", snap.SaveID), zap.Error(err))
			continue
		}
		s.logger.Debug("清理旧存档", zap.String("save_id", snap.SaveID), zap.Time("saved_at", snap.SavedAt))
		deleted++
	}
	return deleted, nil
}
