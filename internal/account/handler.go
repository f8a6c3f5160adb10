// Package account serves the profile endpoints and removes accounts whose
// deletion grace period ran out.
package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chaptertrack/internal/auth"
)

// DefaultGrace is how long a deletion request can still be cancelled.
const DefaultGrace = 15 * 24 * time.Hour

type Handler struct {
	Users *auth.Repo
	Grace time.Duration
	Now   func() time.Time
}

func NewHandler(users *auth.Repo, grace time.Duration) *Handler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Handler{Users: users, Grace: grace, Now: time.Now}
}

// RegisterRoutes expects an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
	rg.POST("/me/deletion", h.requestDeletion)
	rg.DELETE("/me/deletion", h.cancelDeletion)
}

func (h *Handler) me(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.writeProfile(c, claims.UserID)
}

// requestDeletion schedules the purge and signs the account out
// everywhere. Logging in again within the grace period allows a cancel.
func (h *Handler) requestDeletion(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	at := h.Now().Add(h.Grace)
	if err := h.Users.ScheduleDeletion(c.Request.Context(), claims.UserID, at); err != nil {
		h.writeError(c, err, "schedule deletion failed")
		return
	}
	h.writeProfile(c, claims.UserID)
}

func (h *Handler) cancelDeletion(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.Users.CancelDeletion(c.Request.Context(), claims.UserID); err != nil {
		h.writeError(c, err, "cancel deletion failed")
		return
	}
	h.writeProfile(c, claims.UserID)
}

func (h *Handler) writeProfile(c *gin.Context, userID string) {
	u, err := h.Users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	if errors.Is(err, auth.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
