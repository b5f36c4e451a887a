package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// ClassHandler exposes class and roster endpoints.
type ClassHandler struct {
	service *service.ClassService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc *service.ClassService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// List godoc
// @Summary List classes visible to the caller
// @Tags Classes
// @Produce json
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.ClassFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	classes, total, err := h.service.List(c.Request.Context(), *claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	class, err := h.service.Get(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Create godoc
// @Summary Create class
// @Description Create a class owned by the calling teacher
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body handler.createClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.service.Create(c.Request.Context(), claims.UserID, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Join godoc
// @Summary Join a class by code
// @Description Join the class matching the submitted join code; joining twice is a no-op
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body handler.joinClassRequest true "Join payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/join [post]
func (h *ClassHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req joinClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "join code required"))
		return
	}
	class, err := h.service.JoinByCode(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Roster godoc
// @Summary List the class roster
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/roster [get]
func (h *ClassHandler) Roster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	members, err := h.service.Roster(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}

// RemoveStudent godoc
// @Summary Remove a student from the roster
// @Tags Classes
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Router /classes/{id}/roster/{studentId} [delete]
func (h *ClassHandler) RemoveStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"), *claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Leave godoc
// @Summary Leave a class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204 {object} response.Envelope
// @Router /classes/{id}/leave [post]
func (h *ClassHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Leave(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a class
// @Tags Classes
// @Param id path string true "Class ID"
// @Success 204 {object} response.Envelope
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), *claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type createClassRequest struct {
	Name string `json:"name" binding:"required"`
}

type joinClassRequest struct {
	Code string `json:"code" binding:"required"`
}
