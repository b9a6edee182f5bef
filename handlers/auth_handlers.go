package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-console-go/models"
)

// SessionCookie carries the session token issued at login.
const SessionCookie = "console_session"

const userKey = "user"

// Login handles POST /api/auth/login
func (h *APIHandler) Login(c *gin.Context) {
	var creds models.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		h.bindError(c, err)
		return
	}
	user, err := h.Gateway.Login(c.Request.Context(), strings.TrimSpace(creds.Email), creds.Password)
	if err != nil {
		h.respondError(c, err, "Failed to sign in")
		return
	}
	token, exp, err := h.Tokens.Issue(user)
	if err != nil {
		h.respondError(c, err, "Failed to sign in")
		return
	}
	h.Log.Info("signed in", zap.String("uid", user.UID), zap.String("provider", user.Provider))

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(time.Until(exp).Seconds()), "/", "", h.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token, "expiresAt": exp})
}

// Logout handles POST /api/auth/logout. It succeeds even when nobody is signed in.
func (h *APIHandler) Logout(c *gin.Context) {
	_ = h.Gateway.Logout(c.Request.Context())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", h.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

// Session handles GET /api/auth/session
func (h *APIHandler) Session(c *gin.Context) {
	user, ok := h.Gateway.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user": nil, "loading": h.Gateway.Loading()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "loading": false})
}

func requestToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// RequireSession rejects requests without a valid token for the gateway's current user.
func (h *APIHandler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
			return
		}
		claimed, err := h.Tokens.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		current, ok := h.Gateway.Current()
		if !ok || current.UID != claimed.UID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session has ended"})
			return
		}
		c.Set(userKey, current)
		c.Next()
	}
}

// currentUser returns the user stored by RequireSession.
func currentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}
