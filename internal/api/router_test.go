package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
	"github.com/wfunc/trpg-master/internal/game/save"
	"github.com/wfunc/trpg-master/internal/game/session"
	"github.com/wfunc/trpg-master/internal/middleware"
	"github.com/wfunc/trpg-master/internal/plot"
	"github.com/wfunc/trpg-master/internal/repository"
)

type RouterTestSuite struct {
	suite.Suite
	clock  *session.ManualClock
	game   config.GameConfig
	router *Router
}

// apiResponse 测试用的通用响应
type apiResponse struct {
	Success bool            `json:"success"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	dir := s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "鬼屋.txt"), []byte("雨夜，一座废弃的庄园。"), 0o644))
	plots, err := plot.NewFileSource(dir)
	s.Require().NoError(err)

	db := repository.SetupTestDB(s.T())
	repos := repository.NewManager(db)
	catalog := game.NewCatalog()
	roller := game.NewRandomRoller()
	isAdmin := func(userID string) bool { return userID == "admin" }

	s.game = config.GameConfig{
		RecruitTimeout: time.Minute,
		PrepareTimeout: 5 * time.Minute,
		MaxPlayers:     6,
		DefaultPlayers: 4,
		PlotMaxRunes:   5000,
	}
	s.clock = session.NewManualClock(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC))
	accounts := account.NewService(repos.Users(), nil)
	chars := character.NewService(repos.Characters(), catalog, roller, 3, nil)
	registry := session.NewRegistry(&session.RegistryConfig{
		Game:         s.game,
		Characters:   chars,
		Accounts:     accounts,
		Plots:        plots,
		Catalog:      catalog,
		Roller:       roller,
		Clock:        s.clock,
		IsAdmin:      isAdmin,
		FallbackText: "命运的齿轮继续转动",
	})
	s.T().Cleanup(registry.Close)

	s.router = NewRouter(db, &Services{
		Accounts:   accounts,
		Characters: chars,
		Sessions:   registry,
		Saves:      save.NewGateway(repos.Saves(), registry, isAdmin, nil),
		Plots:      plots,
		Catalog:    catalog,
		Roller:     roller,
	}, nil)
}

func (s *RouterTestSuite) do(method, path, user string, body any) (int, apiResponse) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)

	var resp apiResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (s *RouterTestSuite) decode(raw json.RawMessage, out any) {
	s.Require().NoError(json.Unmarshal(raw, out))
}

func (s *RouterTestSuite) TestHealthAndNoRoute() {
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "healthy")

	code, resp := s.do(http.MethodGet, "/api/v1/nothing", "", nil)
	s.Equal(http.StatusNotFound, code)
	s.Equal("not_found", resp.Kind)
}

func (s *RouterTestSuite) TestIdentityRequired() {
	code, resp := s.do(http.MethodPost, "/api/v1/register", "", nil)
	s.Equal(http.StatusUnauthorized, code)
	s.False(resp.Success)
}

func (s *RouterTestSuite) TestRegister() {
	code, resp := s.do(http.MethodPost, "/api/v1/register", "alice", nil)
	s.Equal(http.StatusCreated, code)
	var first RegisterResponse
	s.decode(resp.Data, &first)
	s.Len(first.UID, 8)
	s.True(first.Created)

	code, resp = s.do(http.MethodPost, "/api/v1/register", "alice", nil)
	s.Equal(http.StatusOK, code)
	var again RegisterResponse
	s.decode(resp.Data, &again)
	s.Equal(first.UID, again.UID)
	s.False(again.Created)

	code, resp = s.do(http.MethodGet, "/api/v1/me", "bob", nil)
	s.Equal(http.StatusForbidden, code)
	s.Equal("permission_denied", resp.Kind)
}

func (s *RouterTestSuite) TestDice() {
	code, resp := s.do(http.MethodGet, "/api/v1/dice/20", "", nil)
	s.Equal(http.StatusOK, code)
	var out struct {
		Sides  int `json:"sides"`
		Result int `json:"result"`
	}
	s.decode(resp.Data, &out)
	s.Equal(20, out.Sides)
	s.GreaterOrEqual(out.Result, 1)
	s.LessOrEqual(out.Result, 20)

	code, resp = s.do(http.MethodGet, "/api/v1/dice/1", "", nil)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation", resp.Kind)

	code, _ = s.do(http.MethodGet, "/api/v1/dice/abc", "", nil)
	s.Equal(http.StatusBadRequest, code)
}

// 完整流程：注册、建卡、开团、加入、绑定、检定、推进剧情、存档、读档
func (s *RouterTestSuite) TestSessionFlow() {
	for _, u := range []string{"gm", "alice", "bob"} {
		code, _ := s.do(http.MethodPost, "/api/v1/register", u, nil)
		s.Require().Equal(http.StatusCreated, code)
	}

	code, resp := s.do(http.MethodPost, "/api/v1/characters", "alice", CreateCharacterRequest{
		RuleSet: game.RuleSetCoC,
		Name:    "侦探",
		Attributes: map[string]int{
			"str": 50, "con": 50, "dex": 60, "app": 40, "pow": 55,
			"siz": 65, "int": 70, "edu": 75, "luck": 45,
		},
	})
	s.Require().Equal(http.StatusCreated, code)
	var c game.Character
	s.decode(resp.Data, &c)

	code, resp = s.do(http.MethodGet, "/api/v1/characters/"+c.RID, "bob", nil)
	s.Equal(http.StatusForbidden, code)

	code, resp = s.do(http.MethodPost, "/api/v1/sessions", "gm", StartSessionRequest{RuleSet: game.RuleSetCoC, PlotRef: "鬼屋"})
	s.Require().Equal(http.StatusCreated, code)
	var v session.View
	s.decode(resp.Data, &v)
	s.Equal(game.PhaseRecruiting, v.Phase)
	s.Equal(4, v.MaxPlayers)
	base := "/api/v1/sessions/" + v.SessionID

	code, resp = s.do(http.MethodPost, "/api/v1/sessions", "gm", StartSessionRequest{RuleSet: game.RuleSetCoC, PlotRef: "不存在"})
	s.Equal(http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, base+"/join", "alice", nil)
	s.Require().Equal(http.StatusOK, code)
	code, resp = s.do(http.MethodPost, base+"/join", "alice", nil)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation", resp.Kind)

	code, resp = s.do(http.MethodPost, base+"/attach", "alice", AttachRequest{RID: c.RID})
	s.Require().Equal(http.StatusOK, code)
	s.decode(resp.Data, &v)
	s.True(v.Players[0].Ready)

	// 检定只能在游戏阶段进行
	code, resp = s.do(http.MethodPost, base+"/check", "alice", CheckRequest{Check: "侦查"})
	s.Equal(http.StatusConflict, code)
	s.Equal("mismatched_state", resp.Kind)

	s.clock.Advance(s.game.RecruitTimeout)
	code, resp = s.do(http.MethodGet, "/api/v1/sessions/current", "alice", nil)
	s.Require().Equal(http.StatusOK, code)
	s.decode(resp.Data, &v)
	s.Equal(game.PhasePlaying, v.Phase)

	code, resp = s.do(http.MethodPost, base+"/check", "alice", CheckRequest{Check: "侦查", Modifier: "adv"})
	s.Require().Equal(http.StatusOK, code)
	var out struct {
		Target int    `json:"target"`
		Rolls  []int  `json:"rolls"`
		Tier   string `json:"tier"`
	}
	s.decode(resp.Data, &out)
	s.Len(out.Rolls, 2)
	s.NotEmpty(out.Tier)

	code, _ = s.do(http.MethodPost, base+"/check", "alice", CheckRequest{Check: "侦查", Modifier: "lucky"})
	s.Equal(http.StatusBadRequest, code)

	code, resp = s.do(http.MethodPost, base+"/plot/advance", "alice", nil)
	s.Require().Equal(http.StatusOK, code)
	var adv session.PlotAdvance
	s.decode(resp.Data, &adv)
	s.False(adv.Advanced)
	s.Equal("命运的齿轮继续转动", adv.Text)

	code, resp = s.do(http.MethodPost, base+"/items", "gm", GiveItemRequest{UserID: "alice", Name: "手电筒"})
	s.Require().Equal(http.StatusOK, code)
	code, resp = s.do(http.MethodGet, base+"/items", "alice", nil)
	s.Require().Equal(http.StatusOK, code)
	var items struct {
		Items []game.Item `json:"items"`
	}
	s.decode(resp.Data, &items)
	s.Require().Len(items.Items, 1)
	s.Equal(1, items.Items[0].Quantity)

	code, resp = s.do(http.MethodPost, base+"/items", "alice", GiveItemRequest{UserID: "alice", Name: "金条"})
	s.Equal(http.StatusForbidden, code)

	code, resp = s.do(http.MethodPost, base+"/saves", "gm", SaveRequest{Name: "第一章"})
	s.Require().Equal(http.StatusCreated, code)
	var snap game.SaveSnapshot
	s.decode(resp.Data, &snap)
	s.Equal(game.SnapshotIncomplete, snap.Status)

	code, resp = s.do(http.MethodGet, "/api/v1/saves", "gm", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Contains(string(resp.Data), snap.SaveID)

	code, _ = s.do(http.MethodPost, base+"/end", "alice", nil)
	s.Equal(http.StatusForbidden, code)
	code, _ = s.do(http.MethodPost, base+"/end", "gm", nil)
	s.Require().Equal(http.StatusOK, code)
	code, _ = s.do(http.MethodGet, base, "gm", nil)
	s.Equal(http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/saves/"+snap.SaveID+"/load", "bob", nil)
	s.Equal(http.StatusForbidden, code)
	code, resp = s.do(http.MethodPost, "/api/v1/saves/"+snap.SaveID+"/load", "gm", nil)
	s.Require().Equal(http.StatusCreated, code)
	s.decode(resp.Data, &v)
	s.Equal(snap.SaveID, v.RestoredFrom)

	code, resp = s.do(http.MethodPost, "/api/v1/saves/"+snap.SaveID+"/load", "gm", nil)
	s.Equal(http.StatusConflict, code)
	s.Equal("mismatched_state", resp.Kind)
}

func (s *RouterTestSuite) TestCombatRoutes() {
	for _, u := range []string{"gm", "alice"} {
		_, _ = s.do(http.MethodPost, "/api/v1/register", u, nil)
	}
	code, resp := s.do(http.MethodPost, "/api/v1/characters/random", "alice", RandomCharacterRequest{RuleSet: game.RuleSetDnD})
	s.Require().Equal(http.StatusCreated, code)
	var c game.Character
	s.decode(resp.Data, &c)

	_, resp = s.do(http.MethodPost, "/api/v1/sessions", "gm", StartSessionRequest{RuleSet: game.RuleSetDnD, PlotRef: "鬼屋"})
	var v session.View
	s.decode(resp.Data, &v)
	base := "/api/v1/sessions/" + v.SessionID
	_, _ = s.do(http.MethodPost, base+"/join", "alice", nil)
	_, _ = s.do(http.MethodPost, base+"/attach", "alice", AttachRequest{RID: c.RID})
	s.clock.Advance(s.game.RecruitTimeout)

	code, resp = s.do(http.MethodPost, base+"/npcs", "gm", session.NPCRequest{Name: "守卫", Attributes: map[string]int{"hp": 12, "dex": 10}})
	s.Require().Equal(http.StatusCreated, code)
	var npc game.NPC
	s.decode(resp.Data, &npc)
	s.Equal(12, npc.HP)

	code, _ = s.do(http.MethodPut, base+"/npcs/"+npc.NPCID+"/combat", "gm", NPCCombatRequest{InCombat: true})
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.do(http.MethodPost, base+"/combat", "alice", nil)
	s.Equal(http.StatusForbidden, code)
	code, _ = s.do(http.MethodPost, base+"/combat", "gm", nil)
	s.Require().Equal(http.StatusCreated, code)
	code, resp = s.do(http.MethodPost, base+"/combat", "gm", nil)
	s.Equal(http.StatusConflict, code)
	s.Equal("already_active", resp.Kind)

	code, resp = s.do(http.MethodGet, base+"/combat", "alice", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Contains(string(resp.Data), "守卫")

	code, resp = s.do(http.MethodPost, base+"/hp", "gm", AdjustHPRequest{Target: "守卫", Delta: -5})
	s.Require().Equal(http.StatusOK, code)
	var hp session.HPChange
	s.decode(resp.Data, &hp)
	s.Equal(7, hp.HP)

	code, _ = s.do(http.MethodDelete, base+"/combat", "gm", nil)
	s.Require().Equal(http.StatusOK, code)
	code, resp = s.do(http.MethodPost, base+"/combat/attack", "alice", AttackRequest{Target: "守卫"})
	s.Equal(http.StatusConflict, code)
	s.Equal("no_active_combat", resp.Kind)

	code, _ = s.do(http.MethodDelete, base+"/npcs/"+npc.NPCID, "gm", nil)
	s.Require().Equal(http.StatusOK, code)
	code, resp = s.do(http.MethodGet, base+"/npcs", "gm", nil)
	s.Require().Equal(http.StatusOK, code)
	s.NotContains(string(resp.Data), npc.NPCID)

}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
