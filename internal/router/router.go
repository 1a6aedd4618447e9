package router

import (
	"github.com/anonto42/nano-midea/engagement/internal/apperrors"
	"github.com/anonto42/nano-midea/engagement/internal/handlers"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/anonto42/nano-midea/engagement/pkg/config"
	"github.com/anonto42/nano-midea/engagement/validators"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Dependencies are the components the HTTP layer is built from
type Dependencies struct {
	Store     repositories.Store
	Relations handlers.RelationService
	// Auth resolves the actor id of a request (Firebase or local JWT)
	Auth   echo.MiddlewareFunc
	Logger *zap.Logger
}

// New creates an Echo instance with middleware, validation, error rendering and routes
func New(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validators.NewValidator()
	e.HTTPErrorHandler = apperrors.HTTPErrorHandler(deps.Logger)

	config.SetupMiddleware(e, deps.Logger)
	SetupRoutes(e, deps)
	return e
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, deps Dependencies) {
	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck(deps.Store.Name()))

	api := e.Group("/api/v1")
	api.Use(deps.Auth)

	postHandler := handlers.NewPostHandler(deps.Store, deps.Logger)
	postHandler.RegisterPostRoutes(api)

	relationHandler := handlers.NewRelationHandler(deps.Relations, deps.Store, deps.Logger)
	relationHandler.RegisterRelationRoutes(api)

	deps.Logger.Info("Routes configured", zap.String("store", deps.Store.Name()))
}
