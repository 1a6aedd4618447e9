package config

import (
	appMiddleware "github.com/anonto42/nano-midea/engagement/internal/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo, logger *zap.Logger) {
	e.Use(middleware.RequestID())
	e.Use(appMiddleware.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
}
