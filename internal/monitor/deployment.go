package monitor

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/store"
)

// TokenHandler manages the deployment tokens probe workers present on
// /monitors/report. The plaintext token appears exactly once, in the create
// response.
type TokenHandler struct {
	Tokens store.TokenStore
}

func NewTokenHandler(tokens store.TokenStore) *TokenHandler {
	return &TokenHandler{Tokens: tokens}
}

func (h *TokenHandler) CreateToken(c *gin.Context) {
	var req db.CreateDeploymentTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.Tokens.CreateToken(c.Request.Context(), c.GetString("org_id"), req.Name, c.GetString("user_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *TokenHandler) ListTokens(c *gin.Context) {
	tokens, err := h.Tokens.ListTokens(c.Request.Context(), c.GetString("org_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *TokenHandler) RevokeToken(c *gin.Context) {
	if err := h.Tokens.RevokeToken(c.Request.Context(), c.GetString("org_id"), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deployment token revoked"})
}
