package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/engagement/internal/apperrors"
	"github.com/anonto42/nano-midea/engagement/internal/middleware"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	postRepository repositories.PostRepository
	logger         *zap.Logger
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(postRepo repositories.PostRepository, logger *zap.Logger) *PostHandler {
	return &PostHandler{
		postRepository: postRepo,
		logger:         logger,
	}
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(g *echo.Group) {
	g.POST("/posts", h.CreatePost)
	g.GET("/posts/:id", h.GetPost)
	g.DELETE("/posts/:id", h.DeletePost)
}

// CreatePost creates a new post with zeroed counters
func (h *PostHandler) CreatePost(c echo.Context) error {
	actorID := middleware.ActorID(c)
	if actorID == "" {
		return apperrors.Unauthorized("authentication required")
	}

	var req models.CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.BadRequest("invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return apperrors.BadRequest("invalid request payload").WithDetails(err.Error())
	}

	post := &models.Post{
		UserID:    actorID,
		Content:   req.Content,
		ImageURLs: req.ImageURLs,
	}
	if err := h.postRepository.CreatePost(c.Request().Context(), post); err != nil {
		h.logger.Error("Failed to create post", zap.String("user_id", actorID), zap.Error(err))
		return apperrors.ServiceUnavailable("store")
	}

	h.logger.Info("Post created", zap.String("post_id", post.ID), zap.String("user_id", actorID))
	return c.JSON(http.StatusCreated, post)
}

// GetPost retrieves a post by ID
func (h *PostHandler) GetPost(c echo.Context) error {
	post, err := h.postRepository.GetPostByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.storeError(err)
	}
	return c.JSON(http.StatusOK, post)
}

// DeletePost deletes a post; only its author may do so
func (h *PostHandler) DeletePost(c echo.Context) error {
	actorID := middleware.ActorID(c)
	postID := c.Param("id")
	ctx := c.Request().Context()

	existing, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return h.storeError(err)
	}
	if existing.UserID != actorID {
		return apperrors.Forbidden("you are not authorized to delete this post")
	}

	if err := h.postRepository.DeletePost(ctx, postID); err != nil {
		return h.storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PostHandler) storeError(err error) error {
	if errors.Is(err, repositories.ErrTargetNotFound) {
		return apperrors.NotFound("post")
	}
	h.logger.Error("Post store failure", zap.Error(err))
	return apperrors.ServiceUnavailable("store")
}
