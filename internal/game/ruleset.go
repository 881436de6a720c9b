package game

import (
	"sort"

	"github.com/wfunc/trpg-master/internal/errors"
)

// Range 属性取值范围（闭区间）
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains 判断值是否在范围内
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// DiceMechanic 掷骰机制
type DiceMechanic struct {
	DieSides int `json:"die_sides"`
	// AdvantageTakesMax 优势取大值；百分骰规则优势取小值
	AdvantageTakesMax bool `json:"advantage_takes_max"`
	// Tiered 是否分级（大成功/困难成功/…）
	Tiered bool `json:"tiered"`
	// CriticalDivisor 与 HardDivisor 为分级阈值的除数
	CriticalDivisor int `json:"critical_divisor"`
	HardDivisor     int `json:"hard_divisor"`
	// FumbleAbove 大于该值即为大失败
	FumbleAbove int `json:"fumble_above"`
	// SkillBaseTarget 百分骰技能检定的固定目标值
	SkillBaseTarget int `json:"skill_base_target"`
	// ProficiencyBonus d20技能检定的固定熟练加值
	ProficiencyBonus int `json:"proficiency_bonus"`
	// SkillDefaultAttribute 技能没有映射时使用的属性
	SkillDefaultAttribute string `json:"skill_default_attribute"`
	// SkillAttributeFallback 角色缺少属性时的取值
	SkillAttributeFallback int `json:"skill_attribute_fallback"`
}

// RuleSet 规则系统描述，进程启动后只读
type RuleSet struct {
	ID             RuleSetID         `json:"id"`
	Attributes     []string          `json:"attributes"`
	AttributeNames map[string]string `json:"attribute_names"`
	Ranges         map[string]Range  `json:"ranges"`
	Skills         []string          `json:"skills"`
	// SkillAttributes 技能 -> 主属性（仅d20规则使用）
	SkillAttributes map[string]string `json:"skill_attributes,omitempty"`
	// StandardChecks 标准检定名 -> 属性
	StandardChecks map[string]string `json:"standard_checks"`
	// SpeedAttributes 先攻使用的属性，按顺序取第一个存在的
	SpeedAttributes []string     `json:"speed_attributes"`
	Dice            DiceMechanic `json:"dice"`
	// HasMP 是否使用魔法值
	HasMP bool `json:"has_mp"`

	skillSet map[string]struct{}
}

// AttributeDisplayName 属性显示名
func (r *RuleSet) AttributeDisplayName(key string) string {
	if name, ok := r.AttributeNames[key]; ok {
		return name
	}
	return key
}

// AttributeRange 属性取值范围
func (r *RuleSet) AttributeRange(key string) (Range, bool) {
	rg, ok := r.Ranges[key]
	return rg, ok
}

// IsAttribute 是否是本规则的属性
func (r *RuleSet) IsAttribute(key string) bool {
	_, ok := r.Ranges[key]
	return ok
}

// IsSkill 是否是本规则的技能
func (r *RuleSet) IsSkill(name string) bool {
	_, ok := r.skillSet[name]
	return ok
}

// IsStandardCheck 是否是标准检定
func (r *RuleSet) IsStandardCheck(name string) bool {
	_, ok := r.StandardChecks[name]
	return ok
}

// ResolveStandardCheckAttribute 标准检定对应的属性
func (r *RuleSet) ResolveStandardCheckAttribute(name string) (string, bool) {
	attr, ok := r.StandardChecks[name]
	return attr, ok
}

// SkillAttribute 技能的主属性，未映射时使用默认属性
func (r *RuleSet) SkillAttribute(skill string) string {
	if attr, ok := r.SkillAttributes[skill]; ok {
		return attr
	}
	return r.Dice.SkillDefaultAttribute
}

// SpeedValue 取先攻属性值，都不存在时为0
func (r *RuleSet) SpeedValue(attrs map[string]int) int {
	for _, key := range r.SpeedAttributes {
		if v, ok := attrs[key]; ok {
			return v
		}
	}
	return 0
}

// ValidateAttributes 校验属性集合完整且每项在范围内
func (r *RuleSet) ValidateAttributes(attrs map[string]int) error {
	for _, key := range r.Attributes {
		v, ok := attrs[key]
		if !ok {
			rg := r.Ranges[key]
			return errors.Newf(errors.ErrAttributeInvalid, "缺少属性 %s(%s)，取值范围 %d-%d",
				key, r.AttributeDisplayName(key), rg.Min, rg.Max)
		}
		if rg := r.Ranges[key]; !rg.Contains(v) {
			return errors.Newf(errors.ErrAttributeInvalid, "属性 %s(%s) 的值 %d 超出范围 %d-%d",
				key, r.AttributeDisplayName(key), v, rg.Min, rg.Max)
		}
	}
	// 规则外的键不校验，随角色一起保存
	return nil
}

// Catalog 规则目录
type Catalog struct {
	rules map[RuleSetID]*RuleSet
}

// NewCatalog 创建包含内置规则的目录
func NewCatalog() *Catalog {
	c := &Catalog{rules: make(map[RuleSetID]*RuleSet)}
	for _, rs := range []*RuleSet{cocRuleSet(), dndRuleSet()} {
		rs.skillSet = make(map[string]struct{}, len(rs.Skills))
		for _, s := range rs.Skills {
			rs.skillSet[s] = struct{}{}
		}
		c.rules[rs.ID] = rs
	}
	return c
}

// Get 按ID获取规则
func (c *Catalog) Get(id RuleSetID) (*RuleSet, error) {
	rs, ok := c.rules[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "规则 %q 不存在，请使用 coc 或 dnd", id)
	}
	return rs, nil
}

// IDs 所有规则ID
func (c *Catalog) IDs() []RuleSetID {
	ids := make([]RuleSetID, 0, len(c.rules))
	for id := range c.rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func uniformRanges(keys []string, rg Range) map[string]Range {
	out := make(map[string]Range, len(keys))
	for _, k := range keys {
		out[k] = rg
	}
	return out
}

func cocRuleSet() *RuleSet {
	attrs := []string{"str", "con", "dex", "app", "pow", "siz", "int", "edu", "luck"}
	return &RuleSet{
		ID:         RuleSetCoC,
		Attributes: attrs,
		AttributeNames: map[string]string{
			"str": "力量", "con": "体质", "dex": "敏捷", "app": "外貌",
			"pow": "意志", "siz": "体型", "int": "智力", "edu": "教育", "luck": "幸运",
		},
		Ranges: uniformRanges(attrs, Range{Min: 15, Max: 90}),
		Skills: []string{"侦查", "图书馆使用", "心理学", "潜行", "格斗", "手枪", "闪避", "医学", "神秘学"},
		StandardChecks: map[string]string{
			"力量检定": "str",
			"敏捷检定": "dex",
			"智力检定": "int",
			"意志检定": "pow",
		},
		SpeedAttributes: []string{"dex", "敏捷"},
		Dice: DiceMechanic{
			DieSides:          100,
			AdvantageTakesMax: false,
			Tiered:            true,
			CriticalDivisor:   5,
			HardDivisor:       2,
			FumbleAbove:       95,
			SkillBaseTarget:   50,
		},
		HasMP: true,
	}
}

func dndRuleSet() *RuleSet {
	attrs := []string{"力量", "敏捷", "体质", "智力", "感知", "魅力"}
	names := make(map[string]string, len(attrs))
	for _, a := range attrs {
		names[a] = a
	}
	return &RuleSet{
		ID:             RuleSetDnD,
		Attributes:     attrs,
		AttributeNames: names,
		Ranges:         uniformRanges(attrs, Range{Min: 8, Max: 20}),
		Skills: []string{"运动", "潜行", "巧手", "奥秘", "历史", "调查", "自然", "宗教",
			"驯兽", "洞察", "医药", "察觉", "生存", "欺瞒", "威吓", "表演", "说服"},
		SkillAttributes: map[string]string{
			"运动": "力量",
			"潜行": "敏捷", "巧手": "敏捷",
			"奥秘": "智力", "历史": "智力", "调查": "智力", "自然": "智力", "宗教": "智力",
			"驯兽": "感知", "洞察": "感知", "医药": "感知", "察觉": "感知", "生存": "感知",
			"欺瞒": "魅力", "威吓": "魅力", "表演": "魅力", "说服": "魅力",
		},
		StandardChecks: map[string]string{
			"力量检定": "力量",
			"敏捷检定": "敏捷",
			"体质检定": "体质",
			"智力检定": "智力",
			"感知检定": "感知",
			"魅力检定": "魅力",
		},
		SpeedAttributes: []string{"dex", "敏捷"},
		Dice: DiceMechanic{
			DieSides:               20,
			AdvantageTakesMax:      true,
			ProficiencyBonus:       2,
			SkillDefaultAttribute:  "感知",
			SkillAttributeFallback: 10,
		},
	}
}
