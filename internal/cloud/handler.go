package cloud

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/auth"
	"chaptertrack/pkg/models"
)

const maxCoverBytes = 10 << 20

type Handler struct {
	Service *Service
	Covers  CoverStore
}

func NewHandler(svc *Service, covers CoverStore) *Handler {
	return &Handler{Service: svc, Covers: covers}
}

// RegisterRoutes mounts the authenticated routes on the /users group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/titles", h.getDocument)
	rg.PUT("/titles", h.putDocument)
	rg.GET("/titles/records", h.listRecords)
	rg.PUT("/titles/:id", h.putRecord)
	rg.DELETE("/titles/:id", h.deleteRecord)
	rg.POST("/covers", h.uploadCover)
}

// RegisterFiles serves uploaded covers publicly.
func (h *Handler) RegisterFiles(r gin.IRoutes) {
	r.Static("/files", h.Covers.Dir)
}

func (h *Handler) getDocument(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	doc, err := h.Service.Document(c.Request.Context(), claims.UserID)
	if err != nil {
		writeError(c, err, "load failed")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) putDocument(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req models.TitlesDocument
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID != "" && req.UserID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "document belongs to another user"})
		return
	}

	doc, err := h.Service.Replace(c.Request.Context(), claims.UserID, req.Titles, "http")
	if err != nil {
		writeError(c, err, "save failed")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) listRecords(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	items, err := h.Service.Records(c.Request.Context(), claims.UserID)
	if err != nil {
		writeError(c, err, "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(items), "items": items})
}

func (h *Handler) putRecord(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var t models.Title
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if t.ID == "" {
		t.ID = id
	}
	if t.ID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id in body does not match path"})
		return
	}

	stored, applied, err := h.Service.Upsert(c.Request.Context(), claims.UserID, t, "http")
	if err != nil {
		writeError(c, err, "save failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied, "title": stored})
}

func (h *Handler) deleteRecord(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.Service.Delete(c.Request.Context(), claims.UserID, id, "http"); err != nil {
		writeError(c, err, "delete failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) uploadCover(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCoverBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	url, err := h.Covers.Save(claims.UserID, fh.Filename, f)
	if err != nil {
		if errors.Is(err, ErrUnsupportedImage) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrMessage(err)})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func apperrMessage(err error) string {
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
