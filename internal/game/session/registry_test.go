package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/suite"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
	"github.com/wfunc/trpg-master/internal/game/check"
	"github.com/wfunc/trpg-master/internal/game/combat"
	"github.com/wfunc/trpg-master/internal/narrative"
	"github.com/wfunc/trpg-master/internal/plot"
	"github.com/wfunc/trpg-master/internal/repository"
)

const fallbackText = "命运的齿轮继续转动"

type fakeNarrator struct {
	mu   sync.Mutex
	text string
	err  error
	got  []narrative.Summary
}

func (f *fakeNarrator) Advance(_ context.Context, s narrative.Summary) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, s)
	return f.text, f.err
}

type RegistryTestSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *ManualClock
	roller   *game.ScriptedRoller
	chars    *character.Service
	accounts *account.Service
	narrator *fakeNarrator
	game     config.GameConfig
	registry *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.ctx = context.Background()

	dir := s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "鬼屋.txt"), []byte(strings.Repeat("雾", 6000)), 0o644))
	plots, err := plot.NewFileSource(dir)
	s.Require().NoError(err)

	s.clock = NewManualClock(time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC))
	s.roller = game.NewScriptedRoller()
	s.chars = character.NewService(repository.NewMemoryCharacterStore(), game.NewCatalog(), game.NewRandomRoller(), 3, nil)
	s.accounts = account.NewService(repository.NewMemoryUserRegistry(), nil)
	s.narrator = &fakeNarrator{text: "门后传来低语。"}
	s.game = config.GameConfig{
		RecruitTimeout:  60 * time.Second,
		PrepareTimeout:  300 * time.Second,
		MaxPlayers:      6,
		DefaultPlayers:  4,
		QuotaPerRuleSet: 3,
		PlotMaxRunes:    5000,
	}
	s.registry = NewRegistry(&RegistryConfig{
		Game:         s.game,
		Characters:   s.chars,
		Accounts:     s.accounts,
		Plots:        plots,
		Narrator:     s.narrator,
		Roller:       s.roller,
		Clock:        s.clock,
		IsAdmin:      func(userID string) bool { return userID == "admin" },
		FallbackText: fallbackText,
	})
	s.T().Cleanup(s.registry.Close)

	for _, u := range []string{"gm", "alice", "bob", "carol", "admin"} {
		_, _, err := s.accounts.Register(s.ctx, u)
		s.Require().NoError(err)
	}
}

func cocAttrs() map[string]int {
	return map[string]int{
		"str": 50, "con": 50, "dex": 60, "app": 40, "pow": 55,
		"siz": 65, "int": 70, "edu": 75, "luck": 45,
	}
}

func (s *RegistryTestSuite) uid(userID string) string {
	u, err := s.accounts.Lookup(s.ctx, userID)
	s.Require().NoError(err)
	return u.UID
}

func (s *RegistryTestSuite) newCharacter(userID string, rs game.RuleSetID) *game.Character {
	attrs := cocAttrs()
	if rs == game.RuleSetDnD {
		attrs = map[string]int{"力量": 15, "敏捷": 14, "体质": 13, "智力": 12, "感知": 10, "魅力": 8}
	}
	c, err := s.chars.Create(s.ctx, character.CreateRequest{
		OwnerUID:   s.uid(userID),
		RuleSet:    rs,
		Name:       userID + "的调查员",
		Attributes: attrs,
	})
	s.Require().NoError(err)
	return c
}

func (s *RegistryTestSuite) start(maxPlayers int) string {
	v, err := s.registry.Start(s.ctx, "gm", game.RuleSetCoC, "鬼屋", maxPlayers)
	s.Require().NoError(err)
	return v.SessionID
}

func (s *RegistryTestSuite) join(id string, users ...string) {
	for _, u := range users {
		_, err := s.registry.Join(s.ctx, id, u)
		s.Require().NoError(err)
	}
}

func (s *RegistryTestSuite) view(id string) *View {
	v, err := s.registry.Get(id)
	s.Require().NoError(err)
	return v
}

func (s *RegistryTestSuite) playerOf(v *View, userID string) game.Player {
	for _, p := range v.Players {
		if p.UserID == userID {
			return p
		}
	}
	s.FailNow("player not found", userID)
	return game.Player{}
}

// playing 创建一局所有玩家都已绑定角色的游戏
func (s *RegistryTestSuite) playing(users ...string) (string, map[string]*game.Character) {
	id := s.start(0)
	chars := make(map[string]*game.Character)
	for _, u := range users {
		s.join(id, u)
		c := s.newCharacter(u, game.RuleSetCoC)
		_, err := s.registry.AttachCharacter(s.ctx, id, u, c.RID)
		s.Require().NoError(err)
		chars[u] = c
	}
	s.clock.Advance(s.game.RecruitTimeout)
	s.Require().Equal(game.PhasePlaying, s.view(id).Phase)
	return id, chars
}

func (s *RegistryTestSuite) TestStart() {
	v, err := s.registry.Start(s.ctx, "gm", game.RuleSetCoC, "鬼屋", 0)
	s.Require().NoError(err)
	s.Regexp(`^\d{6}$`, v.SessionID)
	s.Equal(game.PhaseRecruiting, v.Phase)
	s.Equal(4, v.MaxPlayers)
	s.Equal(ProgressStart, v.ProgressMarker)
	s.Equal("gm", v.CreatorUserID)
	s.Empty(v.Players)

	s.registry.mu.RLock()
	content := s.registry.sessions[v.SessionID].plotContent
	s.registry.mu.RUnlock()
	s.Equal(5000, utf8.RuneCountInString(content))

	v, err = s.registry.Start(s.ctx, "gm", game.RuleSetDnD, "鬼屋.txt", 10)
	s.Require().NoError(err)
	s.Equal(6, v.MaxPlayers)

	_, err = s.registry.Start(s.ctx, "gm", game.RuleSetCoC, "不存在", 4)
	s.True(errors.Is(err, errors.ErrPlotNotFound))

	_, err = s.registry.Start(s.ctx, "stranger", game.RuleSetCoC, "鬼屋", 4)
	s.True(errors.Is(err, errors.ErrNotRegistered))

	_, err = s.registry.Start(s.ctx, "gm", "gurps", "鬼屋", 4)
	s.True(errors.Is(err, errors.ErrNotFound))

	s.Len(s.registry.List(), 2)
}

func (s *RegistryTestSuite) TestJoin() {
	id := s.start(2)

	v, err := s.registry.Join(s.ctx, id, "alice")
	s.Require().NoError(err)
	s.Require().Len(v.Players, 1)
	p := v.Players[0]
	s.Equal(s.uid("alice"), p.UID)
	s.False(p.Ready)
	s.False(p.Bound())
	s.Equal(game.PlayerStatusAlive, p.Status)

	_, err = s.registry.Join(s.ctx, id, "alice")
	s.True(errors.Is(err, errors.ErrAlreadyJoined))
	s.Len(s.view(id).Players, 1)

	s.join(id, "bob")
	_, err = s.registry.Join(s.ctx, id, "carol")
	s.True(errors.Is(err, errors.ErrSessionFull))
	s.Len(s.view(id).Players, 2)

	_, err = s.registry.Join(s.ctx, id, "stranger")
	s.True(errors.Is(err, errors.ErrNotRegistered))

	_, err = s.registry.Join(s.ctx, "000000", "carol")
	s.True(errors.Is(err, errors.ErrNotFound))

	// 同一用户不能同时在两个剧本中
	other := s.start(4)
	_, err = s.registry.Join(s.ctx, other, "alice")
	s.True(errors.Is(err, errors.ErrInAnotherSession))

	mine, err := s.registry.SessionOf("alice")
	s.Require().NoError(err)
	s.Equal(id, mine.SessionID)
}

func (s *RegistryTestSuite) TestRecruitTimeout_EmptySessionArchived() {
	id := s.start(0)
	s.clock.Advance(s.game.RecruitTimeout - time.Second)
	s.Equal(game.PhaseRecruiting, s.view(id).Phase)

	s.clock.Advance(time.Second)
	_, err := s.registry.Get(id)
	s.True(errors.Is(err, errors.ErrNotFound))
	s.Empty(s.registry.List())
	s.Zero(s.clock.Pending())
}

func (s *RegistryTestSuite) TestRecruitTimeout_ToPreparing() {
	id := s.start(0)
	s.join(id, "alice")

	s.clock.Advance(s.game.RecruitTimeout)
	s.Equal(game.PhasePreparing, s.view(id).Phase)

	_, err := s.registry.Join(s.ctx, id, "bob")
	s.True(errors.Is(err, errors.ErrWrongPhase))
	s.Equal(errors.KindMismatchedState, errors.KindOf(err))
}

func (s *RegistryTestSuite) TestAttach_AllReadyMovesToPlaying() {
	id := s.start(0)
	s.join(id, "alice", "bob")
	s.clock.Advance(s.game.RecruitTimeout)

	a := s.newCharacter("alice", game.RuleSetCoC)
	v, err := s.registry.AttachCharacter(s.ctx, id, "alice", a.RID)
	s.Require().NoError(err)
	s.Equal(game.PhasePreparing, v.Phase)
	s.True(s.playerOf(v, "alice").Ready)
	s.Equal(a.RID, s.playerOf(v, "alice").CharacterRID)

	b := s.newCharacter("bob", game.RuleSetCoC)
	v, err = s.registry.AttachCharacter(s.ctx, id, "bob", b.RID)
	s.Require().NoError(err)
	s.Equal(game.PhasePlaying, v.Phase)

	sid, ok := s.chars.ClaimedBy(b.RID)
	s.True(ok)
	s.Equal(id, sid)
}

func (s *RegistryTestSuite) TestAttach_SwitchCharacterReleasesPrevious() {
	id := s.start(0)
	s.join(id, "alice")

	first := s.newCharacter("alice", game.RuleSetCoC)
	second := s.newCharacter("alice", game.RuleSetCoC)
	_, err := s.registry.AttachCharacter(s.ctx, id, "alice", first.RID)
	s.Require().NoError(err)
	_, err = s.registry.AttachCharacter(s.ctx, id, "alice", second.RID)
	s.Require().NoError(err)

	_, ok := s.chars.ClaimedBy(first.RID)
	s.False(ok)
	s.NoError(s.chars.Delete(s.ctx, first.RID, s.uid("alice")))
}

func (s *RegistryTestSuite) TestAttach_Validation() {
	id := s.start(0)
	s.join(id, "alice")

	bobs := s.newCharacter("bob", game.RuleSetCoC)
	_, err := s.registry.AttachCharacter(s.ctx, id, "alice", bobs.RID)
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	dnd := s.newCharacter("alice", game.RuleSetDnD)
	_, err = s.registry.AttachCharacter(s.ctx, id, "alice", dnd.RID)
	s.True(errors.Is(err, errors.ErrMismatchedState))
	_, claimed := s.chars.ClaimedBy(dnd.RID)
	s.False(claimed)

	mine := s.newCharacter("carol", game.RuleSetCoC)
	_, err = s.registry.AttachCharacter(s.ctx, id, "carol", mine.RID)
	s.True(errors.Is(err, errors.ErrNotInSession))

	_, err = s.registry.AttachCharacter(s.ctx, id, "alice", "R00000")
	s.True(errors.Is(err, errors.ErrNotFound))
}

// 两名玩家一人已绑定，准备超时后两人都就绪且角色不同
func (s *RegistryTestSuite) TestPrepareTimeout_AutoAssign() {
	id := s.start(0)
	s.join(id, "alice", "bob")
	s.clock.Advance(s.game.RecruitTimeout)

	a := s.newCharacter("alice", game.RuleSetCoC)
	_, err := s.registry.AttachCharacter(s.ctx, id, "alice", a.RID)
	s.Require().NoError(err)

	s.clock.Advance(s.game.PrepareTimeout)
	v := s.view(id)
	s.Equal(game.PhasePlaying, v.Phase)

	alice, bob := s.playerOf(v, "alice"), s.playerOf(v, "bob")
	s.True(alice.Ready)
	s.True(bob.Ready)
	s.Require().True(bob.Bound())
	s.NotEqual(alice.CharacterRID, bob.CharacterRID)

	generated, err := s.chars.Get(s.ctx, bob.CharacterRID)
	s.Require().NoError(err)
	s.Equal(s.uid("bob"), generated.CreatorUID)
	s.Equal(game.RuleSetCoC, generated.RuleSet)
	s.True(strings.HasPrefix(generated.Name, "随机角色"))
}

// 跳过准备后，过期的准备计时器不再生效
func (s *RegistryTestSuite) TestSkip_StaleTimerIsNoop() {
	id := s.start(0)
	s.join(id, "alice", "bob")
	s.clock.Advance(s.game.RecruitTimeout)

	_, err := s.registry.Skip(s.ctx, id, "alice")
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	v, err := s.registry.Skip(s.ctx, id, "gm")
	s.Require().NoError(err)
	s.Equal(game.PhasePlaying, v.Phase)
	bobRID := s.playerOf(v, "bob").CharacterRID
	s.NotEmpty(bobRID)

	s.Equal(1, s.clock.Pending())
	s.clock.Advance(s.game.PrepareTimeout)
	v = s.view(id)
	s.Equal(game.PhasePlaying, v.Phase)
	s.Equal(bobRID, s.playerOf(v, "bob").CharacterRID)

	_, err = s.registry.Skip(s.ctx, id, "gm")
	s.True(errors.Is(err, errors.ErrWrongPhase))

	// 直接触发过期计时器同样无效
	s.registry.onTimer(id, game.PhaseRecruiting)
	s.Equal(game.PhasePlaying, s.view(id).Phase)
}

func (s *RegistryTestSuite) TestKick() {
	id, chars := s.playing("alice", "bob")
	alice, bob := chars["alice"], chars["bob"]

	err := s.chars.Delete(s.ctx, alice.RID, s.uid("alice"))
	s.True(errors.Is(err, errors.ErrCharacterInUse))

	_, err = s.registry.Kick(s.ctx, id, "bob", "alice", false)
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	v, err := s.registry.Kick(s.ctx, id, "gm", "alice", false)
	s.Require().NoError(err)
	s.Len(v.Players, 1)
	s.NoError(s.chars.Delete(s.ctx, alice.RID, s.uid("alice")))

	// 管理员踢人并级联删除角色
	_, err = s.registry.Kick(s.ctx, id, "admin", "bob", true)
	s.Require().NoError(err)
	_, err = s.chars.Get(s.ctx, bob.RID)
	s.True(errors.Is(err, errors.ErrNotFound))

	_, err = s.registry.Kick(s.ctx, id, "gm", "bob", false)
	s.True(errors.Is(err, errors.ErrNotInSession))

	// 被移出的玩家可以加入其他剧本
	other := s.start(0)
	s.join(other, "alice", "bob")
}

func (s *RegistryTestSuite) TestKick_DuringCombat() {
	id, chars := s.playing("alice", "bob")
	s.roller.Push(20, 10)
	_, err := s.registry.StartCombat(s.ctx, id, "gm")
	s.Require().NoError(err)

	_, err = s.registry.Kick(s.ctx, id, "gm", "alice", false)
	s.Require().NoError(err)

	st, err := s.registry.CombatStatus(id, "bob")
	s.Require().NoError(err)
	s.Require().Len(st.Participants, 1)
	s.Equal(chars["bob"].RID, st.Current.ID)
}

func (s *RegistryTestSuite) snapshotFor(userID, rid string) *game.SaveSnapshot {
	return &game.SaveSnapshot{
		SaveID:         "save-1",
		Name:           "第一章",
		SessionID:      "123456",
		CreatorUserID:  "gm",
		RuleSet:        game.RuleSetCoC,
		PlotRef:        "鬼屋",
		MaxPlayers:     4,
		Players:        []game.SavedPlayer{{UserID: userID, UID: s.uid(userID), CharacterRID: rid}},
		NPCs:           []game.NPC{{NPCID: "NPC1234", Name: "管家", HP: 40, Attributes: map[string]int{"hp": 40}, SessionID: "123456", InCombat: true}},
		ProgressMarker: ProgressAdvanced,
		Status:         game.SnapshotIncomplete,
	}
}

func (s *RegistryTestSuite) TestRestore_ReturningPlayerRebound() {
	c := s.newCharacter("alice", game.RuleSetCoC)
	v, err := s.registry.Restore(s.ctx, s.snapshotFor("alice", c.RID), "admin")
	s.Require().NoError(err)
	s.Equal(game.PhaseRecruiting, v.Phase)
	s.Equal("admin", v.CreatorUserID)
	s.Equal(ProgressAdvanced, v.ProgressMarker)
	s.Equal("save-1", v.RestoredFrom)
	s.Require().Len(v.NPCs, 1)
	s.Equal(v.SessionID, v.NPCs[0].SessionID)
	s.True(v.NPCs[0].InCombat)

	v, err = s.registry.Join(s.ctx, v.SessionID, "alice")
	s.Require().NoError(err)
	alice := s.playerOf(v, "alice")
	s.Equal(c.RID, alice.CharacterRID)
	s.True(alice.Ready)

	// 全员就绪，召集结束后直接进入游戏
	s.clock.Advance(s.game.RecruitTimeout)
	s.Equal(game.PhasePlaying, s.view(v.SessionID).Phase)
}

// 同一角色在两个剧本中竞争：读档剧本的自动分配与另一剧本的绑定只能有一个成功
func (s *RegistryTestSuite) TestConcurrentAttach_OneWins() {
	c := s.newCharacter("alice", game.RuleSetCoC)

	first := s.start(0)
	s.join(first, "alice")
	restored, err := s.registry.Restore(s.ctx, s.snapshotFor("alice", c.RID), "gm")
	s.Require().NoError(err)
	second := restored.SessionID
	s.join(second, "bob")
	s.clock.Advance(s.game.RecruitTimeout)
	s.Require().Equal(game.PhasePreparing, s.view(first).Phase)
	s.Require().Equal(game.PhasePreparing, s.view(second).Phase)

	var wg sync.WaitGroup
	var attachErr, skipErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, attachErr = s.registry.AttachCharacter(s.ctx, first, "alice", c.RID)
	}()
	go func() {
		defer wg.Done()
		_, skipErr = s.registry.Skip(s.ctx, second, "gm")
	}()
	wg.Wait()

	s.Require().NoError(skipErr)
	bobRID := s.playerOf(s.view(second), "bob").CharacterRID
	holder, ok := s.chars.ClaimedBy(c.RID)
	s.Require().True(ok)

	if attachErr == nil {
		s.Equal(first, holder)
		s.NotEqual(c.RID, bobRID)
	} else {
		s.True(errors.Is(attachErr, errors.ErrMismatchedState))
		s.Equal(second, holder)
		s.Equal(c.RID, bobRID)
	}
}

func (s *RegistryTestSuite) TestAttach_LoserSeesMismatchedState() {
	c := s.newCharacter("alice", game.RuleSetCoC)

	first := s.start(0)
	s.join(first, "alice")
	restored, err := s.registry.Restore(s.ctx, s.snapshotFor("alice", c.RID), "gm")
	s.Require().NoError(err)
	s.join(restored.SessionID, "bob")
	s.clock.Advance(s.game.RecruitTimeout)

	_, err = s.registry.Skip(s.ctx, restored.SessionID, "gm")
	s.Require().NoError(err)

	_, err = s.registry.AttachCharacter(s.ctx, first, "alice", c.RID)
	s.True(errors.Is(err, errors.ErrMismatchedState))
	s.Equal(errors.KindMismatchedState, errors.KindOf(err))
}

func (s *RegistryTestSuite) TestCheck() {
	id, _ := s.playing("alice")

	s.roller.Push(30)
	out, err := s.registry.Check(s.ctx, id, "alice", "侦查", check.ModifierNone)
	s.Require().NoError(err)
	s.Equal(50, out.Target)
	s.Equal(30, out.Roll)
	s.Equal(check.TierSuccess, out.Tier)

	s.roller.Push(80, 8)
	out, err = s.registry.Check(s.ctx, id, "alice", "dex", check.ModifierAdvantage)
	s.Require().NoError(err)
	s.Equal(60, out.Target)
	s.Equal([]int{80, 8}, out.Rolls)
	s.Equal(8, out.Roll)
	s.Equal(check.TierCriticalSuccess, out.Tier)

	_, err = s.registry.Check(s.ctx, id, "alice", "飞行", check.ModifierNone)
	s.True(errors.Is(err, errors.ErrUnknownCheck))

	_, err = s.registry.Check(s.ctx, id, "carol", "侦查", check.ModifierNone)
	s.True(errors.Is(err, errors.ErrNotInSession))

	recruiting := s.start(0)
	s.join(recruiting, "bob")
	_, err = s.registry.Check(s.ctx, recruiting, "bob", "侦查", check.ModifierNone)
	s.True(errors.Is(err, errors.ErrWrongPhase))
}

func (s *RegistryTestSuite) TestCombatFlow() {
	id, chars := s.playing("alice", "bob")

	npc, err := s.registry.CreateNPC(s.ctx, id, "gm", NPCRequest{Name: "深潜者", Type: "怪物", Attributes: map[string]int{"hp": 30, "dex": 40}})
	s.Require().NoError(err)
	_, err = s.registry.SetNPCCombat(s.ctx, id, "gm", npc.NPCID, true)
	s.Require().NoError(err)

	_, err = s.registry.StartCombat(s.ctx, id, "alice")
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	// alice 20+6, bob 10+6, 深潜者 1+4
	s.roller.Push(20, 10, 1)
	st, err := s.registry.StartCombat(s.ctx, id, "gm")
	s.Require().NoError(err)
	s.Equal(1, st.Round)
	s.Require().Len(st.Participants, 3)
	s.Equal(chars["alice"].RID, st.Participants[0].ID)
	s.Equal(chars["bob"].RID, st.Participants[1].ID)
	s.Equal(npc.NPCID, st.Participants[2].ID)
	s.Equal("gm", st.Participants[2].OwnerUserID)
	for _, p := range st.Participants {
		s.Equal(game.CharacterStatusNormal, p.Status, p.Name)
	}

	_, err = s.registry.StartCombat(s.ctx, id, "gm")
	s.True(errors.Is(err, errors.ErrCombatActive))

	_, err = s.registry.Attack(s.ctx, id, "bob", "深潜者")
	s.True(errors.Is(err, errors.ErrNotYourTurn))

	s.roller.Push(15, 6)
	res, err := s.registry.Attack(s.ctx, id, "alice", "深潜者")
	s.Require().NoError(err)
	s.Equal(15, res.AttackRoll)
	s.Equal(6, res.DamageRoll)
	s.Equal(chars["bob"].RID, res.NextTurn.ID)

	_, err = s.registry.Attack(s.ctx, id, "bob", npc.NPCID)
	s.Require().NoError(err)
	res, err = s.registry.Attack(s.ctx, id, "gm", chars["alice"].Name)
	s.Require().NoError(err)
	s.True(res.RoundPassed)
	s.Equal(2, res.Round)

	// 攻击不扣血，生命值由团长手动调整
	change, err := s.registry.AdjustHP(s.ctx, id, "gm", "深潜者", -10)
	s.Require().NoError(err)
	s.Equal(combat.KindNPC, change.Kind)
	s.Equal(20, change.HP)

	change, err = s.registry.AdjustHP(s.ctx, id, "gm", "alice", -30)
	s.Require().NoError(err)
	s.Equal(70, change.HP)
	stored, _ := s.chars.Get(s.ctx, chars["alice"].RID)
	s.Equal(70, stored.HP)

	st, err = s.registry.CombatStatus(id, "bob")
	s.Require().NoError(err)
	s.Equal(70, st.Participants[0].HP)
	s.Equal(20, st.Participants[2].HP)

	_, err = s.registry.CombatStatus(id, "carol")
	s.True(errors.Is(err, errors.ErrNotInSession))

	s.True(errors.Is(s.registry.EndCombat(s.ctx, id, "alice"), errors.ErrPermissionDenied))
	s.Require().NoError(s.registry.EndCombat(s.ctx, id, "gm"))
	_, err = s.registry.CombatStatus(id, "alice")
	s.True(errors.Is(err, errors.ErrNoActiveCombat))
	_, err = s.registry.Attack(s.ctx, id, "alice", "深潜者")
	s.True(errors.Is(err, errors.ErrNoActiveCombat))
}

func (s *RegistryTestSuite) TestNPCs() {
	id, _ := s.playing("alice")

	_, err := s.registry.CreateNPC(s.ctx, id, "alice", NPCRequest{Name: "守卫"})
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	guard, err := s.registry.CreateNPC(s.ctx, id, "admin", NPCRequest{Name: "守卫", Type: "人类"})
	s.Require().NoError(err)
	s.Regexp(`^NPC\d{4}$`, guard.NPCID)
	s.Equal(defaultNPCHP, guard.HP)
	s.Equal(id, guard.SessionID)

	_, err = s.registry.CreateNPC(s.ctx, id, "gm", NPCRequest{Name: "  "})
	s.True(errors.Is(err, errors.ErrInvalidParam))

	list, err := s.registry.ListNPCs(id, "gm")
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.registry.ListNPCs(id, "alice")
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	s.True(errors.Is(s.registry.RemoveNPC(s.ctx, id, "gm", "不存在"), errors.ErrNotFound))
	s.Require().NoError(s.registry.RemoveNPC(s.ctx, id, "gm", "守卫"))
	list, _ = s.registry.ListNPCs(id, "gm")
	s.Empty(list)
}

func (s *RegistryTestSuite) TestItems() {
	id, chars := s.playing("alice")

	_, err := s.registry.GiveItem(s.ctx, id, "alice", "alice", "手电筒", 1)
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	c, err := s.registry.GiveItem(s.ctx, id, "gm", "alice", "手电筒", 2)
	s.Require().NoError(err)
	s.Equal(chars["alice"].RID, c.RID)

	_, err = s.registry.GiveItem(s.ctx, id, "gm", "alice", "绳子", 0)
	s.True(errors.Is(err, errors.ErrInvalidParam))

	_, err = s.registry.GiveItem(s.ctx, id, "gm", "carol", "绳子", 1)
	s.True(errors.Is(err, errors.ErrNotInSession))

	items, err := s.registry.ListItems(s.ctx, id, "alice")
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("手电筒", items[0].Name)
	s.Equal(2, items[0].Quantity)
}

func (s *RegistryTestSuite) TestAdvancePlot() {
	id, _ := s.playing("alice")

	adv, err := s.registry.AdvancePlot(s.ctx, id, "alice")
	s.Require().NoError(err)
	s.True(adv.Advanced)
	s.Equal("门后传来低语。", adv.Text)
	s.Equal(ProgressAdvanced, adv.ProgressMarker)
	s.Equal(ProgressAdvanced, s.view(id).ProgressMarker)

	s.Require().Len(s.narrator.got, 1)
	sum := s.narrator.got[0]
	s.Equal("coc", sum.RuleSet)
	s.Equal(ProgressStart, sum.Progress)
	s.Equal([]string{"alice的调查员"}, sum.CharacterNames)

	_, err = s.registry.AdvancePlot(s.ctx, id, "carol")
	s.True(errors.Is(err, errors.ErrNotInSession))
}

func (s *RegistryTestSuite) TestAdvancePlot_FallbackKeepsProgress() {
	s.narrator.err = errors.New(errors.ErrNarrativeUnavailable)
	id, _ := s.playing("alice")

	adv, err := s.registry.AdvancePlot(s.ctx, id, "gm")
	s.Require().NoError(err)
	s.False(adv.Advanced)
	s.Equal(fallbackText, adv.Text)
	s.Equal(ProgressStart, s.view(id).ProgressMarker)
}

func (s *RegistryTestSuite) TestSnapshot() {
	id, chars := s.playing("alice", "bob")
	_, err := s.registry.CreateNPC(s.ctx, id, "gm", NPCRequest{Name: "管家"})
	s.Require().NoError(err)

	_, err = s.registry.Snapshot(id, "alice")
	s.True(errors.Is(err, errors.ErrPermissionDenied))

	snap, err := s.registry.Snapshot(id, "gm")
	s.Require().NoError(err)
	s.Equal(id, snap.SessionID)
	s.Equal("gm", snap.CreatorUserID)
	s.Equal(game.RuleSetCoC, snap.RuleSet)
	s.Equal(ProgressStart, snap.ProgressMarker)
	s.Len(snap.NPCs, 1)
	s.Require().Len(snap.Players, 2)
	s.Equal(game.SavedPlayer{UserID: "alice", UID: s.uid("alice"), CharacterRID: chars["alice"].RID}, snap.Players[0])

	recruiting := s.start(0)
	_, err = s.registry.Snapshot(recruiting, "gm")
	s.True(errors.Is(err, errors.ErrWrongPhase))
}

func (s *RegistryTestSuite) TestEnd() {
	id, chars := s.playing("alice")

	s.True(errors.Is(s.registry.End(s.ctx, id, "alice"), errors.ErrPermissionDenied))
	s.Require().NoError(s.registry.End(s.ctx, id, "gm"))

	_, err := s.registry.Get(id)
	s.True(errors.Is(err, errors.ErrNotFound))
	_, err = s.registry.SessionOf("alice")
	s.True(errors.Is(err, errors.ErrNotInSession))
	s.NoError(s.chars.Delete(s.ctx, chars["alice"].RID, s.uid("alice")))
}

func (s *RegistryTestSuite) TestClose_StopsTimers() {
	s.start(0)
	s.start(0)
	s.Equal(2, s.clock.Pending())

	s.registry.Close()
	s.Zero(s.clock.Pending())
	_, err := s.registry.Start(s.ctx, "gm", game.RuleSetCoC, "鬼屋", 4)
	s.True(errors.Is(err, errors.ErrCanceled))
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
