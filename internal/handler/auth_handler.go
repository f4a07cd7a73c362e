package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Syncline/internal/auth"
)

const userKey = "userID"

// currentUser returns the authenticated user id placed in the context by
// AuthMiddleware.
func currentUser(c *gin.Context) string {
	return c.GetString(userKey)
}

// AuthMiddleware validates the Bearer token and stores the subject user id.
func AuthMiddleware(tokens *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

type AuthHandler interface {
	IssueToken(c *gin.Context)
}

type authHandler struct {
	tokens *auth.Manager
}

func NewAuthHandler(tokens *auth.Manager) AuthHandler {
	return &authHandler{tokens: tokens}
}

type tokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// IssueToken mints a connect token for the given user. Real deployments sit
// behind an identity provider; this endpoint stands in for it.
func (h *authHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	token, err := h.tokens.Issue(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
