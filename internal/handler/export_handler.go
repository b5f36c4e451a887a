package handler

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// ExportHandler exposes roster and result exports.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler constructs an export handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Roster godoc
// @Summary Export a class roster
// @Tags Exports
// @Produce json
// @Param id path string true "Class ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/export [get]
func (h *ExportHandler) Roster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.ExportRoster(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AssignmentResults godoc
// @Summary Export assignment results
// @Tags Exports
// @Produce json
// @Param id path string true "Assignment ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/export [get]
func (h *ExportHandler) AssignmentResults(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.ExportAssignmentResults(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download an exported file
// @Description Serves a file referenced by a signed token; no session required
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.service.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	modTime := time.Now()
	if info, statErr := file.Stat(); statErr == nil {
		modTime = info.ModTime()
	}

	c.Header("Content-Disposition", `attachment; filename="`+filepath.Base(name)+`"`)
	c.Header("Content-Type", "application/octet-stream")
	http.ServeContent(c.Writer, c.Request, filepath.Base(name), modTime, file)
}
