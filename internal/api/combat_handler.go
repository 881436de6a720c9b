package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/game/session"
)

// CombatHandler 战斗、NPC、物品与生命值处理器
type CombatHandler struct {
	sessions *session.Registry
}

// NewCombatHandler 创建战斗处理器
func NewCombatHandler(sessions *session.Registry) *CombatHandler {
	return &CombatHandler{sessions: sessions}
}

// AttackRequest 攻击请求，target 为参战者名称或编号
type AttackRequest struct {
	Target string `json:"target" binding:"required"`
}

// NPCCombatRequest 设置NPC是否参战
type NPCCombatRequest struct {
	InCombat bool `json:"in_combat"`
}

// GiveItemRequest 分配物品，quantity 缺省为1
type GiveItemRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Quantity *int   `json:"quantity"`
}

// AdjustHPRequest 调整生命值，target 为玩家标识或NPC编号/名称
type AdjustHPRequest struct {
	Target string `json:"target" binding:"required"`
	Delta  int    `json:"delta"`
}

// Start 开始战斗
func (h *CombatHandler) Start(c *gin.Context) {
	st, err := h.sessions.StartCombat(c.Request.Context(), param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, st)
}

// Status 战斗状态
func (h *CombatHandler) Status(c *gin.Context) {
	st, err := h.sessions.CombatStatus(param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// Attack 攻击
func (h *CombatHandler) Attack(c *gin.Context) {
	var req AttackRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.sessions.Attack(c.Request.Context(), param(c, "id"), userID(c), req.Target)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// End 结束战斗
func (h *CombatHandler) End(c *gin.Context) {
	if err := h.sessions.EndCombat(c.Request.Context(), param(c, "id"), userID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"active": false})
}

// CreateNPC 创建NPC
func (h *CombatHandler) CreateNPC(c *gin.Context) {
	var req session.NPCRequest
	if !bind(c, &req) {
		return
	}
	n, err := h.sessions.CreateNPC(c.Request.Context(), param(c, "id"), userID(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, n)
}

// ListNPCs NPC列表
func (h *CombatHandler) ListNPCs(c *gin.Context) {
	list, err := h.sessions.ListNPCs(param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"npcs": list, "total": len(list)})
}

// RemoveNPC 删除NPC
func (h *CombatHandler) RemoveNPC(c *gin.Context) {
	if err := h.sessions.RemoveNPC(c.Request.Context(), param(c, "id"), userID(c), param(c, "npc")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"npc": param(c, "npc"), "deleted": true})
}

// SetNPCCombat 设置NPC参战
func (h *CombatHandler) SetNPCCombat(c *gin.Context) {
	var req NPCCombatRequest
	if !bind(c, &req) {
		return
	}
	n, err := h.sessions.SetNPCCombat(c.Request.Context(), param(c, "id"), userID(c), param(c, "npc"), req.InCombat)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// GiveItem 分配物品
func (h *CombatHandler) GiveItem(c *gin.Context) {
	var req GiveItemRequest
	if !bind(c, &req) {
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	ch, err := h.sessions.GiveItem(c.Request.Context(), param(c, "id"), userID(c), req.UserID, req.Name, qty)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// ListItems 我的物品
func (h *CombatHandler) ListItems(c *gin.Context) {
	items, err := h.sessions.ListItems(c.Request.Context(), param(c, "id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// AdjustHP 调整生命值
func (h *CombatHandler) AdjustHP(c *gin.Context) {
	var req AdjustHPRequest
	if !bind(c, &req) {
		return
	}
	ch, err := h.sessions.AdjustHP(c.Request.Context(), param(c, "id"), userID(c), req.Target, req.Delta)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}
