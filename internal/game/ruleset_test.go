package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/trpg-master/internal/errors"
)

func validCoCAttributes() map[string]int {
	return map[string]int{
		"str": 50, "con": 50, "dex": 60, "app": 40, "pow": 55,
		"siz": 65, "int": 70, "edu": 75, "luck": 45,
	}
}

func TestCatalog_Get(t *testing.T) {
	c := NewCatalog()

	coc, err := c.Get(RuleSetCoC)
	require.NoError(t, err)
	assert.Len(t, coc.Attributes, 9)
	assert.Equal(t, 100, coc.Dice.DieSides)

	dnd, err := c.Get(RuleSetDnD)
	require.NoError(t, err)
	assert.Len(t, dnd.Attributes, 6)
	assert.Equal(t, 20, dnd.Dice.DieSides)

	_, err = c.Get("gurps")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	assert.Equal(t, []RuleSetID{RuleSetCoC, RuleSetDnD}, c.IDs())
}

func TestRuleSet_Lookups(t *testing.T) {
	c := NewCatalog()
	coc, _ := c.Get(RuleSetCoC)
	dnd, _ := c.Get(RuleSetDnD)

	assert.Equal(t, "敏捷", coc.AttributeDisplayName("dex"))
	assert.Equal(t, "unknown", coc.AttributeDisplayName("unknown"))

	rg, ok := coc.AttributeRange("luck")
	require.True(t, ok)
	assert.Equal(t, Range{Min: 15, Max: 90}, rg)

	assert.True(t, coc.IsSkill("侦查"))
	assert.False(t, coc.IsSkill("察觉"))
	assert.True(t, dnd.IsSkill("察觉"))

	assert.True(t, coc.IsStandardCheck("意志检定"))
	assert.False(t, coc.IsStandardCheck("体质检定"))
	assert.True(t, dnd.IsStandardCheck("体质检定"))

	attr, ok := dnd.ResolveStandardCheckAttribute("魅力检定")
	require.True(t, ok)
	assert.Equal(t, "魅力", attr)

	assert.Equal(t, "感知", dnd.SkillAttribute("察觉"))
	assert.Equal(t, "力量", dnd.SkillAttribute("运动"))
	assert.Equal(t, "感知", dnd.SkillAttribute("不存在的技能"))

	assert.Equal(t, 60, coc.SpeedValue(validCoCAttributes()))
	assert.Equal(t, 14, dnd.SpeedValue(map[string]int{"敏捷": 14}))
	assert.Equal(t, 0, dnd.SpeedValue(map[string]int{}))
}

func TestRuleSet_ValidateAttributes(t *testing.T) {
	coc, _ := NewCatalog().Get(RuleSetCoC)

	require.NoError(t, coc.ValidateAttributes(validCoCAttributes()))

	// 缺少属性
	attrs := validCoCAttributes()
	delete(attrs, "edu")
	err := coc.ValidateAttributes(attrs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAttributeInvalid))
	assert.Contains(t, err.Error(), "edu")
	assert.Contains(t, err.Error(), "15-90")

	// 超出范围
	attrs = validCoCAttributes()
	attrs["dex"] = 91
	err = coc.ValidateAttributes(attrs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dex")
	assert.Contains(t, err.Error(), "15-90")

	// 边界值合法
	attrs = validCoCAttributes()
	attrs["dex"] = 15
	attrs["str"] = 90
	assert.NoError(t, coc.ValidateAttributes(attrs))

	// 规则外的键忽略
	attrs = validCoCAttributes()
	attrs["hp"] = 12
	attrs["力量"] = 50
	assert.NoError(t, coc.ValidateAttributes(attrs))
}

func TestRollDie(t *testing.T) {
	r := NewScriptedRoller(7)

	v, err := RollDie(r, 20)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = RollDie(r, 1)
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))
	_, err = RollDie(r, 1001)
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))

	for i := 0; i < 200; i++ {
		v, err := RollDie(NewRandomRoller(), 1000)
		require.NoError(t, err)
		assert.True(t, v >= 1 && v <= 1000)
	}
}

func TestRollInRange(t *testing.T) {
	rg := Range{Min: 8, Max: 20}
	assert.Equal(t, 8, RollInRange(NewScriptedRoller(1), rg))
	assert.Equal(t, 20, RollInRange(NewScriptedRoller(13), rg))

	roller := NewRandomRoller()
	for i := 0; i < 200; i++ {
		assert.True(t, rg.Contains(RollInRange(roller, rg)))
	}
}
