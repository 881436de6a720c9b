package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
)

// Event 生命周期事件
type Event string

const (
	EventRecruitEmpty   Event = "recruit_empty"   // 召集超时且无人加入
	EventRecruitClosed  Event = "recruit_closed"  // 召集超时，进入角色准备
	EventAllReady       Event = "all_ready"       // 全员就绪
	EventPrepareTimeout Event = "prepare_timeout" // 准备超时，自动分配角色
	EventSkip           Event = "skip"            // 团长跳过准备
	EventEnd            Event = "end"             // 团长结束剧本
)

// Transition 阶段转换定义，Action 失败时保持原阶段
type Transition struct {
	From   game.Phase
	Event  Event
	To     game.Phase
	Action func(ctx context.Context, s *Session) error
}

// Lifecycle 会话阶段状态机。不持有锁，调用方必须持有会话锁
type Lifecycle struct {
	transitions map[string][]Transition
	logger      *zap.Logger

	// onEnter 进入新阶段后回调，用于启动计时器和归档清理
	onEnter func(ctx context.Context, s *Session, from, to game.Phase)
}

// newLifecycle 创建状态机，autoAssign 为准备阶段结束时的自动分配动作
func newLifecycle(logger *zap.Logger, autoAssign func(ctx context.Context, s *Session) error) *Lifecycle {
	l := &Lifecycle{
		transitions: make(map[string][]Transition),
		logger:      logger,
	}

	// 召集中 -> 归档（无人加入）
	l.addTransition(Transition{From: game.PhaseRecruiting, Event: EventRecruitEmpty, To: game.PhaseArchived})
	// 召集中 -> 角色准备
	l.addTransition(Transition{From: game.PhaseRecruiting, Event: EventRecruitClosed, To: game.PhasePreparing})
	// 角色准备 -> 游戏中
	l.addTransition(Transition{From: game.PhasePreparing, Event: EventAllReady, To: game.PhasePlaying})
	l.addTransition(Transition{From: game.PhasePreparing, Event: EventPrepareTimeout, To: game.PhasePlaying, Action: autoAssign})
	l.addTransition(Transition{From: game.PhasePreparing, Event: EventSkip, To: game.PhasePlaying, Action: autoAssign})

	// 任何活跃阶段 -> 归档
	for _, phase := range []game.Phase{game.PhaseRecruiting, game.PhasePreparing, game.PhasePlaying} {
		l.addTransition(Transition{From: phase, Event: EventEnd, To: game.PhaseArchived})
	}
	return l
}

// addTransition 添加阶段转换
func (l *Lifecycle) addTransition(t Transition) {
	key := transitionKey(t.From, t.Event)
	l.transitions[key] = append(l.transitions[key], t)
}

func transitionKey(phase game.Phase, event Event) string {
	return fmt.Sprintf("%s:%s", phase, event)
}

// CanTransition 当前阶段是否接受事件
func (l *Lifecycle) CanTransition(s *Session, event Event) bool {
	return len(l.transitions[transitionKey(s.phase, event)]) > 0
}

// ValidEvents 当前阶段可触发的事件
func (l *Lifecycle) ValidEvents(s *Session) []Event {
	var events []Event
	for _, list := range l.transitions {
		for _, t := range list {
			if t.From == s.phase {
				events = append(events, t.Event)
			}
		}
	}
	return events
}

// Trigger 触发事件
func (l *Lifecycle) Trigger(ctx context.Context, s *Session, event Event) error {
	transitions := l.transitions[transitionKey(s.phase, event)]
	if len(transitions) == 0 {
		return errors.Newf(errors.ErrWrongPhase, "阶段 %s 不接受事件 %s", s.phase, event)
	}

	t := transitions[0]
	from := s.phase
	if t.Action != nil {
		if err := t.Action(ctx, s); err != nil {
			l.logger.Warn("阶段转换失败",
				zap.String("session_id", s.id),
				zap.String("phase", string(from)),
				zap.String("event", string(event)),
				zap.Error(err))
			return err
		}
	}

	s.phase = t.To
	l.logger.Info("阶段转换",
		zap.String("session_id", s.id),
		zap.String("from", string(from)),
		zap.String("to", string(t.To)),
		zap.String("event", string(event)))

	if l.onEnter != nil {
		l.onEnter(ctx, s, from, t.To)
	}
	return nil
}
