package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

// respondErr translates an error chain into the HTTP response. Handlers never
// pick status codes by hand.
func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}
