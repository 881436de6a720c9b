package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/game"
)

// AccountHandler 用户注册处理器
type AccountHandler struct {
	accounts *account.Service
}

// NewAccountHandler 创建用户处理器
func NewAccountHandler(accounts *account.Service) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	*game.User
	Created bool `json:"created"`
}

// Register 注册，已注册时返回原uid
func (h *AccountHandler) Register(c *gin.Context) {
	u, created, err := h.accounts.Register(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, RegisterResponse{User: u, Created: created})
}

// Me 当前用户
func (h *AccountHandler) Me(c *gin.Context) {
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
