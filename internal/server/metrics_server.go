package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loykin/cockpit/internal/metrics"
)

// MetricsHandler serves /metrics and /healthz on the separate metrics
// listener.
func MetricsHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}
