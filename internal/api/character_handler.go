package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/account"
	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/game"
	"github.com/wfunc/trpg-master/internal/game/character"
)

// CharacterHandler 角色卡处理器
type CharacterHandler struct {
	accounts   *account.Service
	characters *character.Service
	catalog    *game.Catalog
}

// NewCharacterHandler 创建角色处理器
func NewCharacterHandler(accounts *account.Service, characters *character.Service, catalog *game.Catalog) *CharacterHandler {
	return &CharacterHandler{accounts: accounts, characters: characters, catalog: catalog}
}

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	RuleSet    game.RuleSetID `json:"ruleset" binding:"required"`
	Name       string         `json:"name" binding:"required"`
	Profession string         `json:"profession"`
	Attributes map[string]int `json:"attributes" binding:"required"`
}

// RandomCharacterRequest 随机角色请求
type RandomCharacterRequest struct {
	RuleSet game.RuleSetID `json:"ruleset" binding:"required"`
}

// ListRuleSets 可用规则
func (h *CharacterHandler) ListRuleSets(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"rulesets": h.catalog.IDs()})
}

// Create 按给定属性创建角色
func (h *CharacterHandler) Create(c *gin.Context) {
	var req CreateCharacterRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ch, err := h.characters.Create(c.Request.Context(), character.CreateRequest{
		OwnerUID:   u.UID,
		RuleSet:    req.RuleSet,
		Name:       req.Name,
		Profession: req.Profession,
		Attributes: req.Attributes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// Random 随机生成角色
func (h *CharacterHandler) Random(c *gin.Context) {
	var req RandomCharacterRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ch, err := h.characters.GenerateRandom(c.Request.Context(), u.UID, req.RuleSet)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// List 我的角色
func (h *CharacterHandler) List(c *gin.Context) {
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.characters.ListByOwner(c.Request.Context(), u.UID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"characters": list, "total": len(list)})
}

// Get 查看自己的角色
func (h *CharacterHandler) Get(c *gin.Context) {
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ch, err := h.characters.Get(c.Request.Context(), param(c, "rid"))
	if err != nil {
		fail(c, err)
		return
	}
	if ch.CreatorUID != u.UID {
		fail(c, errors.New(errors.ErrPermissionDenied, "不是该角色的创建者"))
		return
	}
	ok(c, http.StatusOK, ch)
}

// Delete 删除角色
func (h *CharacterHandler) Delete(c *gin.Context) {
	u, err := h.accounts.Lookup(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.characters.Delete(c.Request.Context(), param(c, "rid"), u.UID); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"rid": param(c, "rid"), "deleted": true})
}
