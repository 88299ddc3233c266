package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-edo-api/internal/middleware"
)

// actorID is the verified identity of the caller, empty when the route is not behind
// the JWT middleware. The workflow service rejects an empty actor.
func actorID(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
