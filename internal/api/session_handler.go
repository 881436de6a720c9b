package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/check"
	"github.com/wfunc/trpg-master/internal/game/session"
	"github.com/wfunc/trpg-master/internal/plot"
)

// SessionHandler 会话生命周期、检定与剧情处理器
type SessionHandler struct {
	sessions *session.Registry
	plots    plot.Source
	roller   game.Roller
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *session.Registry, plots plot.Source, roller game.Roller) *SessionHandler {
	return &SessionHandler{sessions: sessions, plots: plots, roller: roller}
}

// StartSessionRequest 开团请求，max_players 为0时使用默认席位
type StartSessionRequest struct {
	RuleSet    game.RuleSetID `json:"ruleset" binding:"required"`
	PlotRef    string         `json:"plot" binding:"required"`
	MaxPlayers int            `json:"max_players" binding:"min=0"`
}

// AttachRequest 绑定角色请求
type AttachRequest struct {
	RID string `json:"rid" binding:"required"`
}

// KickRequest 踢人请求
type KickRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	DeleteCharacter bool   `json:"delete_character"`
}

// CheckRequest 检定请求
type CheckRequest struct {
	Check    string `json:"check" binding:"required"`
	Modifier string `json:"modifier"`
}

// ListPlots 可用剧本
func (h *SessionHandler) ListPlots(c *gin.Context) {
	plots, err := h.plots.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"plots": plots})
}

// Dice 自由掷骰
func (h *SessionHandler) Dice(c *gin.Context) {
	sides, err := strconv.Atoi(param(c, "sides"))
	if err != nil {
		fail(c, errors.Newf(errors.ErrInvalidParam, "无效的骰子面数 %q", c.Param("sides")))
		return
	}
	v, err := game.RollDie(h.roller, sides)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sides": sides, "result": v})
}

// Start 开团
func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.sessions.Start(c.Request.Context(), userID(c), req.RuleSet, req.PlotRef, req.MaxPlayers)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// List 全部活跃会话
func (h *SessionHandler) List(c *gin.Context) {
	list := h.sessions.List()
	ok(c, http.StatusOK, gin.H{"sessions": list, "total": len(list)})
}

// Current 当前用户所在会话
func (h *SessionHandler) Current(c *gin.Context) {
	v, err := h.sessions.SessionOf(userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// Get 会话详情
func (h *SessionHandler) Get(c *gin.Context) {
	v, err := h.sessions.Get(param(c, "id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// Join 加入会话
func (h *SessionHandler) Join(c *gin.Context) {
	v, err := h.sessions.Join(c.Request.Context(), param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// Attach 绑定角色
func (h *SessionHandler) Attach(c *gin.Context) {
	var req AttachRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.sessions.AttachCharacter(c.Request.Context(), param(c, "id"), userID(c), req.RID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// Skip 跳过准备阶段
func (h *SessionHandler) Skip(c *gin.Context) {
	v, err := h.sessions.Skip(c.Request.Context(), param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// Kick 移除玩家
func (h *SessionHandler) Kick(c *gin.Context) {
	var req KickRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.sessions.Kick(c.Request.Context(), param(c, "id"), userID(c), req.UserID, req.DeleteCharacter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// End 结束会话
func (h *SessionHandler) End(c *gin.Context) {
	id := param(c, "id")
	if err := h.sessions.End(c.Request.Context(), id, userID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session_id": id, "phase": game.PhaseArchived})
}

// Check 检定
func (h *SessionHandler) Check(c *gin.Context) {
	var req CheckRequest
	if !bind(c, &req) {
		return
	}
	mod, err := check.ParseModifier(req.Modifier)
	if err != nil {
		fail(c, err)
		return
	}
	out, err := h.sessions.Check(c.Request.Context(), param(c, "id"), userID(c), req.Check, mod)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// AdvancePlot 推进剧情，剧情服务不可用时返回兜底文本
func (h *SessionHandler) AdvancePlot(c *gin.Context) {
	adv, err := h.sessions.AdvancePlot(c.Request.Context(), param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, adv)
}
