package server

import (
	"github.com/labstack/echo/v4"

	"github.com/scholargraph/scholargraph/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	apiRoutes.POST("/batches", routes.CreateBatchHandler)
	apiRoutes.GET("/documents/:id/status", routes.GetDocumentStatusHandler)
	apiRoutes.GET("/entities/:category", routes.GetEntitiesHandler)
	apiRoutes.GET("/edges/aggregated", routes.GetAggregatedEdgesHandler)
}
