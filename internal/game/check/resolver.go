// Package check 检定解析：根据角色、检定项和优劣势计算掷骰结果与成功等级
package check

import (
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
)

// Modifier 优势/劣势
type Modifier string

const (
	ModifierNone         Modifier = ""
	ModifierAdvantage    Modifier = "adv"
	ModifierDisadvantage Modifier = "dis"
)

// ParseModifier 解析修正参数
func ParseModifier(s string) (Modifier, error) {
	switch s {
	case "", "none":
		return ModifierNone, nil
	case "adv", "advantage":
		return ModifierAdvantage, nil
	case "dis", "disadvantage":
		return ModifierDisadvantage, nil
	default:
		return ModifierNone, errors.Newf(errors.ErrInvalidParam, "未知的修正 %q，可用 adv 或 dis", s)
	}
}

// Tier 检定结果等级
type Tier string

const (
	TierCriticalSuccess Tier = "critical_success" // 大成功
	TierHardSuccess     Tier = "hard_success"     // 困难成功
	TierSuccess         Tier = "success"          // 成功
	TierFailure         Tier = "failure"          // 失败
	TierCriticalFailure Tier = "critical_failure" // 大失败
)

// Succeeded 是否成功
func (t Tier) Succeeded() bool {
	return t == TierCriticalSuccess || t == TierHardSuccess || t == TierSuccess
}

// Source 目标值来源
type Source string

const (
	SourceAttribute     Source = "attribute"
	SourceSkill         Source = "skill"
	SourceStandardCheck Source = "standard_check"
)

// Outcome 检定结果
type Outcome struct {
	RuleSet  game.RuleSetID `json:"ruleset"`
	CheckKey string         `json:"check_key"`
	Source   Source         `json:"source"`
	// Label 使用的属性或技能名称
	Label    string   `json:"label"`
	Target   int      `json:"target"`
	Modifier Modifier `json:"modifier"`
	Rolls    []int    `json:"rolls"`
	Roll     int      `json:"roll"`
	Tier     Tier     `json:"tier"`
}

// Resolver 检定解析器，只读角色，不产生副作用
type Resolver struct {
	catalog *game.Catalog
	roller  game.Roller
}

// NewResolver 创建检定解析器
func NewResolver(catalog *game.Catalog, roller game.Roller) *Resolver {
	return &Resolver{catalog: catalog, roller: roller}
}

// Resolve 执行检定
func (r *Resolver) Resolve(character *game.Character, checkKey string, mod Modifier) (*Outcome, error) {
	if character == nil {
		return nil, errors.New(errors.ErrNoCharacter)
	}
	rs, err := r.catalog.Get(character.RuleSet)
	if err != nil {
		return nil, err
	}

	target, source, label, err := resolveTarget(rs, character, checkKey)
	if err != nil {
		return nil, err
	}

	rolls, roll := r.roll(rs.Dice, mod)
	out := &Outcome{
		RuleSet:  rs.ID,
		CheckKey: checkKey,
		Source:   source,
		Label:    label,
		Target:   target,
		Modifier: mod,
		Rolls:    rolls,
		Roll:     roll,
	}
	if rs.Dice.Tiered {
		out.Tier = ClassifyPercentile(rs.Dice, roll, target)
	} else {
		out.Tier = ClassifyD20(roll, target)
	}
	return out, nil
}

// resolveTarget 按 属性 -> 技能 -> 标准检定 的顺序确定目标值
func resolveTarget(rs *game.RuleSet, c *game.Character, key string) (int, Source, string, error) {
	if v, ok := c.Attributes[key]; ok && rs.IsAttribute(key) {
		return v, SourceAttribute, rs.AttributeDisplayName(key), nil
	}

	if rs.IsSkill(key) {
		if rs.Dice.Tiered {
			return rs.Dice.SkillBaseTarget, SourceSkill, key, nil
		}
		attr := rs.SkillAttribute(key)
		v, ok := c.Attributes[attr]
		if !ok {
			v = rs.Dice.SkillAttributeFallback
		}
		return 10 + FloorDiv(v-10, 2) + rs.Dice.ProficiencyBonus, SourceSkill, attr, nil
	}

	if attr, ok := rs.ResolveStandardCheckAttribute(key); ok {
		if v, ok := c.Attributes[attr]; ok {
			return v, SourceStandardCheck, rs.AttributeDisplayName(attr), nil
		}
	}

	return 0, "", "", errors.Newf(errors.ErrUnknownCheck, "%s 规则下没有检定项 %q", rs.ID, key)
}

// roll 按规则掷骰，返回原始骰值与最终取值
func (r *Resolver) roll(d game.DiceMechanic, mod Modifier) ([]int, int) {
	if mod == ModifierNone {
		v := r.roller.Roll(d.DieSides)
		return []int{v}, v
	}

	a, b := r.roller.Roll(d.DieSides), r.roller.Roll(d.DieSides)
	takeMax := d.AdvantageTakesMax
	if mod == ModifierDisadvantage {
		takeMax = !takeMax
	}
	if takeMax {
		return []int{a, b}, max(a, b)
	}
	return []int{a, b}, min(a, b)
}

// ClassifyPercentile 百分骰分级，阈值使用整除且按固定顺序判断
func ClassifyPercentile(d game.DiceMechanic, roll, target int) Tier {
	switch {
	case roll <= target/d.CriticalDivisor:
		return TierCriticalSuccess
	case roll <= target/d.HardDivisor:
		return TierHardSuccess
	case roll <= target:
		return TierSuccess
	case roll <= d.FumbleAbove:
		return TierFailure
	default:
		return TierCriticalFailure
	}
}

// ClassifyD20 d20判定，骰值大于等于DC即成功
func ClassifyD20(roll, dc int) Tier {
	if roll >= dc {
		return TierSuccess
	}
	return TierFailure
}

// FloorDiv 向下取整除法（Go 的 / 向零取整）
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
