package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/game/save"
)

// SaveHandler 存档处理器
type SaveHandler struct {
	saves *save.Gateway
}

// NewSaveHandler 创建存档处理器
func NewSaveHandler(saves *save.Gateway) *SaveHandler {
	return &SaveHandler{saves: saves}
}

// SaveRequest 存档请求
type SaveRequest struct {
	Name string `json:"name" binding:"required"`
}

// Save 保存会话
func (h *SaveHandler) Save(c *gin.Context) {
	var req SaveRequest
	if !bind(c, &req) {
		return
	}
	snap, err := h.saves.Save(c.Request.Context(), param(c, "id"), userID(c), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, snap)
}

// Load 读档，返回恢复出的新会话
func (h *SaveHandler) Load(c *gin.Context) {
	v, err := h.saves.Load(c.Request.Context(), param(c, "saveId"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// List 我的存档
func (h *SaveHandler) List(c *gin.Context) {
	list, err := h.saves.ListSaves(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"saves": list, "total": len(list)})
}

// Get 存档详情
func (h *SaveHandler) Get(c *gin.Context) {
	snap, err := h.saves.Get(c.Request.Context(), param(c, "saveId"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, snap)
}

// Delete 删除存档
func (h *SaveHandler) Delete(c *gin.Context) {
	id := param(c, "saveId")
	if err := h.saves.Delete(c.Request.Context(), id, userID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"save_id": id, "deleted": true})
}
