package game

import (
	"math/rand/v2"
	"sync"

	"github.com/wfunc/trpg-master/internal/errors"
)

// 自由掷骰的面数范围
const (
	MinDieSides = 2
	MaxDieSides = 1000
)

// Roller 掷骰器，Roll 返回 [1, sides] 内的整数
type Roller interface {
	Roll(sides int) int
}

// RandomRoller 基于 math/rand/v2 的掷骰器，并发安全
type RandomRoller struct{}

// NewRandomRoller 创建随机掷骰器
func NewRandomRoller() *RandomRoller {
	return &RandomRoller{}
}

// Roll 掷一次骰
func (RandomRoller) Roll(sides int) int {
	if sides < 1 {
		return 1
	}
	return rand.IntN(sides) + 1
}

// ScriptedRoller 按预设序列出骰，序列用完后回落到随机掷骰
type ScriptedRoller struct {
	mu     sync.Mutex
	values []int
}

// NewScriptedRoller 创建预设掷骰器
func NewScriptedRoller(values ...int) *ScriptedRoller {
	return &ScriptedRoller{values: values}
}

// Push 追加预设值
func (s *ScriptedRoller) Push(values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, values...)
}

// Roll 出下一个预设值
func (s *ScriptedRoller) Roll(sides int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v int
	if len(s.values) > 0 {
		v = s.values[0]
		s.values = s.values[1:]
	} else {
		v = RandomRoller{}.Roll(sides)
	}
	return v
}

// Remaining 剩余预设数量
func (s *ScriptedRoller) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// RollDie 自由掷骰（/dice D<n>），面数必须在 2-1000 之间
func RollDie(r Roller, sides int) (int, error) {
	if sides < MinDieSides || sides > MaxDieSides {
		return 0, errors.Newf(errors.ErrInvalidParam, "骰子面数必须在%d-%d之间", MinDieSides, MaxDieSides)
	}
	return r.Roll(sides), nil
}

// RollInRange 在闭区间内均匀取值
func RollInRange(r Roller, rg Range) int {
	return rg.Min + r.Roll(rg.Max-rg.Min+1) - 1
}
