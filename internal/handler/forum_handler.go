package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// ForumHandler exposes the class forum endpoints.
type ForumHandler struct {
	service *service.ForumService
}

// NewForumHandler constructs a forum handler.
func NewForumHandler(svc *service.ForumService) *ForumHandler {
	return &ForumHandler{service: svc}
}

// Feed godoc
// @Summary Class forum feed
// @Description Posts with nested replies, oldest first
// @Tags Forum
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/forum [get]
func (h *ForumHandler) Feed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	posts, err := h.service.Feed(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, posts, nil)
}

// CreatePost godoc
// @Summary Create a forum post
// @Tags Forum
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body handler.forumContentRequest true "Post payload"
// @Success 201 {object} response.Envelope
// @Router /classes/{id}/forum/posts [post]
func (h *ForumHandler) CreatePost(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req forumContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "content required"))
		return
	}
	post, err := h.service.CreatePost(c.Request.Context(), c.Param("id"), req.Content, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, post)
}

// CreateReply godoc
// @Summary Reply to a forum post
// @Tags Forum
// @Accept json
// @Produce json
// @Param postId path string true "Post ID"
// @Param payload body handler.forumContentRequest true "Reply payload"
// @Success 201 {object} response.Envelope
// @Router /forum/posts/{postId}/replies [post]
func (h *ForumHandler) CreateReply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req forumContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "content required"))
		return
	}
	post, err := h.service.CreateReply(c.Request.Context(), c.Param("postId"), req.Content, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, post)
}

// DeletePost godoc
// @Summary Delete a forum post
// @Description Removes the post and all of its replies
// @Tags Forum
// @Param postId path string true "Post ID"
// @Success 204 {object} response.Envelope
// @Router /forum/posts/{postId} [delete]
func (h *ForumHandler) DeletePost(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.DeletePost(c.Request.Context(), c.Param("postId"), *claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteReply godoc
// @Summary Delete a forum reply
// @Tags Forum
// @Param replyId path string true "Reply ID"
// @Success 204 {object} response.Envelope
// @Router /forum/replies/{replyId} [delete]
func (h *ForumHandler) DeleteReply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.DeleteReply(c.Request.Context(), c.Param("replyId"), *claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type forumContentRequest struct {
	Content string `json:"content" binding:"required"`
}
