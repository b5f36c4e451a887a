package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// AssignmentHandler exposes assignment endpoints.
type AssignmentHandler struct {
	service *service.AssignmentService
}

// NewAssignmentHandler constructs an assignment handler.
func NewAssignmentHandler(svc *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// Publish godoc
// @Summary Publish an assignment
// @Description Creates the assignment and a pending target for every student on the roster
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.PublishAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Publish(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.PublishAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Publish(c.Request.Context(), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// List godoc
// @Summary List assignments
// @Tags Assignments
// @Produce json
// @Param class_id query string false "Filter by class"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.AssignmentFilter
	filter.ClassID = c.Query("class_id")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	assignments, total, err := h.service.List(c.Request.Context(), filter, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, assignments, pagination)
}

// Get godoc
// @Summary Get one assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Targets godoc
// @Summary List per-student targets of an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/targets [get]
func (h *AssignmentHandler) Targets(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	targets, err := h.service.Targets(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, targets, nil)
}

// Reminders godoc
// @Summary List reminders scheduled for an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reminders [get]
func (h *AssignmentHandler) Reminders(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	reminders, err := h.service.Reminders(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reminders, nil)
}
