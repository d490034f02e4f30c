package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dhfinance/models"
	"dhfinance/pkg/services"
	"dhfinance/pkg/store"
)

const (
	ctxUsername = "username"
	ctxRole     = "role"
)

func (a *app) jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			fail(c, http.StatusUnauthorized, "missing or invalid Authorization header")
			c.Abort()
			return
		}
		claims, err := a.auth.ParseAccessToken(strings.TrimSpace(token))
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// self resolves the authenticated user as a ledger owner.
func (a *app) self(c *gin.Context) (services.Owner, bool) {
	return a.ownerNamed(c, c.GetString(ctxUsername), http.StatusUnauthorized)
}

// readOwner is self, except that administrators may name another owner
// with ?username=.
func (a *app) readOwner(c *gin.Context) (services.Owner, bool) {
	target := strings.TrimSpace(c.Query("username"))
	if target == "" || target == c.GetString(ctxUsername) {
		return a.self(c)
	}
	if c.GetString(ctxRole) != models.RoleAdministrator {
		fail(c, http.StatusForbidden, "only administrators may read another user's ledger")
		return services.Owner{}, false
	}
	return a.ownerNamed(c, target, http.StatusNotFound)
}

func (a *app) ownerNamed(c *gin.Context, username string, missing int) (services.Owner, bool) {
	u, err := a.store.UserByUsername(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, missing, "user not found")
			return services.Owner{}, false
		}
		respondError(c, err)
		return services.Owner{}, false
	}
	return services.Owner{ID: u.ID, Username: u.Username}, true
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
}

func (a *app) registerHandler(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username dan password harus diisi")
		return
	}
	if _, err := a.auth.Register(c.Request.Context(), req.Username, req.Password, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Pendaftaran berhasil! Silakan login dengan akun baru Anda."})
}

func (a *app) loginHandler(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username dan password harus diisi")
		return
	}
	sess, err := a.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Login berhasil",
		"token":         sess.AccessToken,
		"refresh_token": sess.RefreshToken,
		"expires_at":    sess.ExpiresAt,
		"user": gin.H{
			"username":  sess.User.Username,
			"email":     sess.User.Email,
			"role":      sess.Role,
			"createdAt": sess.User.CreatedAt,
			"lastLogin": sess.User.LastLogin,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token.
func (a *app) refreshHandler(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"token":         sess.AccessToken,
		"refresh_token": sess.RefreshToken,
		"expires_at":    sess.ExpiresAt,
	})
}

func (a *app) logoutHandler(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "refresh token revoked"})
}

func (a *app) meHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"username": c.GetString(ctxUsername),
		"role":     c.GetString(ctxRole),
	})
}
