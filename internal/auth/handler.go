package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chaptertrack/internal/apperr"
)

// Password bounds. bcrypt ignores everything past 72 bytes.
const (
	minPassword = 8
	maxPassword = 72
)

var errBadCredentials = errors.New("invalid credentials")

type Handler struct {
	Repo   *Repo
	Tokens TokenService
}

func NewHandler(repo *Repo, tokens TokenService) *Handler {
	return &Handler{Repo: repo, Tokens: tokens}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.register)
	rg.POST("/login", h.login)

	signedIn := rg.Group("", AuthMiddleware(h.Tokens, h.Repo))
	signedIn.POST("/change-password", h.changePassword)
	signedIn.POST("/logout", h.logout)
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *registerReq) normalize() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = normalizeEmail(r.Email)

	switch {
	case len(r.Username) < 3 || len(r.Username) > 30:
		return apperr.Validation("username must be 3-30 chars")
	case !strings.Contains(r.Email, "@") || len(r.Email) > 255:
		return apperr.Validation("invalid email")
	}
	return checkPassword(r.Password)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func checkPassword(pw string) error {
	if len(pw) < minPassword || len(pw) > maxPassword {
		return apperr.Validation("password must be 8-72 chars")
	}
	return nil
}

func (h *Handler) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := req.normalize(); err != nil {
		writeError(c, err, "")
		return
	}

	ctx := c.Request.Context()
	// the unique indexes still catch races between these checks and the insert
	if u, _ := h.Repo.GetByEmail(ctx, req.Email); u != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if u, _ := h.Repo.GetByUsername(ctx, req.Username); u != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
		return
	}

	u := User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.Repo.CreateUser(ctx, u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	h.issue(c, http.StatusCreated, &u)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	u, err := h.verify(c, email, req.Password)
	if err != nil {
		writeError(c, err, "login failed")
		return
	}

	// accounts pending deletion may log in so they can cancel it
	h.issue(c, http.StatusOK, u)
}

// verify loads the user by email and checks the password. Both a missing
// user and a wrong password come back as errBadCredentials.
func (h *Handler) verify(c *gin.Context, email, password string) (*User, error) {
	u, err := h.Repo.GetByEmail(c.Request.Context(), email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errBadCredentials
	}
	return u, nil
}

// issue answers register and login with the profile and a fresh token.
func (h *Handler) issue(c *gin.Context, code int, u *User) {
	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	c.JSON(code, gin.H{
		"user":       u.Profile(),
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// changePassword revokes every token of the account, including the one
// used for the request.
func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OldPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current password required"})
		return
	}
	if err := checkPassword(req.NewPassword); err != nil {
		writeError(c, err, "")
		return
	}

	claims := MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	u, err := h.verify(c, claims.Email, req.OldPassword)
	if err != nil {
		writeError(c, err, "change password failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
		return
	}
	if err := h.Repo.UpdatePasswordAndBumpTokenVersion(c.Request.Context(), u.ID, string(hash)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (h *Handler) logout(c *gin.Context) {
	claims := MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.Repo.BumpTokenVersion(c.Request.Context(), claims.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func writeError(c *gin.Context, err error, fallback string) {
	var ae *apperr.AppError
	switch {
	case errors.Is(err, errBadCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errBadCredentials.Error()})
	case errors.As(err, &ae) && ae.Code == apperr.CodeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": ae.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
