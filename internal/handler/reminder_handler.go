package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// ReminderHandler exposes reminder scheduling.
type ReminderHandler struct {
	service *service.ReminderService
}

// NewReminderHandler constructs a reminder handler.
func NewReminderHandler(svc *service.ReminderService) *ReminderHandler {
	return &ReminderHandler{service: svc}
}

// Schedule godoc
// @Summary Schedule a reminder
// @Description Add a reminder for an assignment at a fixed lead time before the due date
// @Tags Reminders
// @Accept json
// @Produce json
// @Param payload body service.ScheduleReminderRequest true "Reminder payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /reminders [post]
func (h *ReminderHandler) Schedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ScheduleReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reminder payload"))
		return
	}
	reminder, err := h.service.Schedule(c.Request.Context(), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reminder)
}
