package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// SubmissionHandler exposes essay submission and correction endpoints.
type SubmissionHandler struct {
	submissions *service.SubmissionService
	corrections *service.CorrectionService
}

// NewSubmissionHandler constructs a submission handler.
func NewSubmissionHandler(submissions *service.SubmissionService, corrections *service.CorrectionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions, corrections: corrections}
}

// Submit godoc
// @Summary Submit an essay
// @Description Upload an essay file for an assignment; one submission per target
// @Tags Submissions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Assignment ID"
// @Param file formData file true "Essay file (txt, md, docx or pdf)"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /assignments/{id}/submissions [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "essay file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "cannot read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	submission, err := h.submissions.Submit(c.Request.Context(), c.Param("id"), *claims, file, fileHeader.Filename, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Mine godoc
// @Summary The caller's submission for an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions/mine [get]
func (h *SubmissionHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.submissions.ByTarget(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// ListByAssignment godoc
// @Summary All submissions for an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions [get]
func (h *SubmissionHandler) ListByAssignment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	submissions, err := h.submissions.ListByAssignment(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions, nil)
}

// Detail godoc
// @Summary One submission with its correction
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id} [get]
func (h *SubmissionHandler) Detail(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.submissions.Detail(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Review godoc
// @Summary Review a correction
// @Description Teacher feedback on a completed AI correction
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body handler.reviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /submissions/{id}/review [post]
func (h *SubmissionHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "feedback required"))
		return
	}
	correction, err := h.corrections.Review(c.Request.Context(), c.Param("id"), req.Feedback, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, correction, nil)
}

type reviewRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}
