package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/engagement/internal/apperrors"
	"github.com/anonto42/nano-midea/engagement/internal/middleware"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RelationService is the part of toggle.Service the handler needs
type RelationService interface {
	Toggle(ctx context.Context, actorID, targetID string, kind models.RelationKind) (toggle.Result, error)
	IsActive(ctx context.Context, actorID, targetID string, kind models.RelationKind) (bool, error)
}

// RelationHandler handles HTTP requests for like and repost relations
type RelationHandler struct {
	service        RelationService
	postRepository repositories.PostRepository
	logger         *zap.Logger
}

// NewRelationHandler creates a new RelationHandler
func NewRelationHandler(service RelationService, postRepo repositories.PostRepository, logger *zap.Logger) *RelationHandler {
	return &RelationHandler{
		service:        service,
		postRepository: postRepo,
		logger:         logger,
	}
}

// RegisterRelationRoutes registers relation routes
func (h *RelationHandler) RegisterRelationRoutes(g *echo.Group) {
	g.POST("/relations/:kind/toggle", h.Toggle)
	g.GET("/relations/:kind/status", h.Status)
}

// Toggle flips the caller's relation on a post
func (h *RelationHandler) Toggle(c echo.Context) error {
	kind, err := models.ParseRelationKind(c.Param("kind"))
	if err != nil {
		return apperrors.BadRequest(err.Error())
	}

	var req models.ToggleRelationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.BadRequest("invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return apperrors.BadRequest("invalid request payload").WithDetails(err.Error())
	}

	res, err := h.service.Toggle(c.Request().Context(), middleware.ActorID(c), req.TargetID, kind)
	if err != nil {
		return toggleError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Status returns whether the caller holds the relation and the post's current counter
func (h *RelationHandler) Status(c echo.Context) error {
	kind, err := models.ParseRelationKind(c.Param("kind"))
	if err != nil {
		return apperrors.BadRequest(err.Error())
	}
	targetID := c.QueryParam("targetId")
	if targetID == "" {
		return apperrors.BadRequest("targetId is required")
	}
	if !models.ValidTargetID(targetID) {
		return apperrors.BadRequest("invalid targetId")
	}
	field, err := kind.CounterField()
	if err != nil {
		return apperrors.BadRequest(err.Error())
	}

	ctx := c.Request().Context()
	post, err := h.postRepository.GetPostByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repositories.ErrTargetNotFound) {
			return apperrors.NotFound("target")
		}
		h.logger.Error("Failed to load post", zap.String("target_id", targetID), zap.Error(err))
		return apperrors.ServiceUnavailable("store")
	}

	active, err := h.service.IsActive(ctx, middleware.ActorID(c), targetID, kind)
	if err != nil {
		return toggleError(err)
	}

	counters := models.PostCounters{PostID: post.ID, LikesCount: post.LikesCount, RepostsCount: post.RepostsCount}
	return c.JSON(http.StatusOK, toggle.Result{Active: active, Count: counters.Get(field)})
}

// toggleError maps toggle service errors onto the API error envelope
func toggleError(err error) error {
	switch {
	case errors.Is(err, toggle.ErrInvalidKind):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, toggle.ErrUnauthenticated):
		return apperrors.Unauthorized("authentication required")
	case errors.Is(err, toggle.ErrTargetNotFound):
		return apperrors.NotFound("target")
	case errors.Is(err, toggle.ErrToggleConflict):
		return apperrors.Conflict("concurrent update, try again")
	case errors.Is(err, toggle.ErrStoreUnavailable):
		return apperrors.ServiceUnavailable("store")
	}
	return err
}
