package server

import (
	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.POST("/ontologies", routes.UploadOntologyHandler, middleware.RequirePermission("ontology.write"))
	apiRoutes.POST("/documents", routes.EnqueueDocumentsHandler, middleware.RequirePermission("document.write"))
	apiRoutes.POST("/retrieve", routes.RetrieveHandler, middleware.RequirePermission("graph.read"))
}
