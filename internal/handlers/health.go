package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthCheck returns a handler reporting liveness and the active store driver
func HealthCheck(driver string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "engagement",
			"store":   driver,
		})
	}
}
