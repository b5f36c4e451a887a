package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/middleware"
	"github.com/lexigrade/lexigrade-api/internal/models"
)

// claimsFromContext pulls the authenticated user's claims out of the
// request context. It returns nil when the route ran without the JWT
// middleware, which handlers treat as unauthorized.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
