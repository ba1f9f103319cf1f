package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/query"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/labstack/echo/v4"
)

type retrieveResponse struct {
	Message string         `json:"message"`
	Context *query.Context `json:"context,omitempty"`
}

// RetrieveHandler returns the ranked subgraph around the query. Types are
// labelled from the tenant's latest ontology when one is stored.
func RetrieveHandler(c echo.Context) error {
	type retrieveBody struct {
		Query    string   `json:"query" validate:"required"`
		Hops     int      `json:"hops" validate:"min=0,max=10"`
		MaxNodes int      `json:"max_nodes" validate:"min=0,max=1000"`
		Types    []string `json:"types"`
		Budget   int      `json:"budget" validate:"min=0"`
	}

	data := new(retrieveBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, retrieveResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, retrieveResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	maxNodes := data.MaxNodes
	if maxNodes == 0 {
		maxNodes = query.DefaultMaxNodes
	}
	opts := []query.RetrieveOption{query.WithTypeFilter(data.Types...)}
	if data.Budget > 0 {
		opts = append(opts, query.WithBudget(data.Budget))
	}

	rec, err := app.Storage.LoadOntology(ctx, user.TenantID, "")
	switch {
	case err == nil:
		index, err := app.Ontologies.Load(rec.Version, rec.Document)
		if err != nil {
			logger.Warn("[Server] Stored ontology does not build", "tenant_id", user.TenantID, "version", rec.Version, "err", err)
		} else {
			opts = append(opts, query.WithIndex(index))
		}
	case !errors.Is(err, store.ErrNotFound):
		logger.Error("[Server] Failed to load ontology", "tenant_id", user.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, retrieveResponse{
			Message: "Internal server error",
		})
	}

	out, err := app.Retriever.Retrieve(ctx, user.TenantID, data.Query, data.Hops, maxNodes, opts...)
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuery) {
			return c.JSON(http.StatusBadRequest, retrieveResponse{
				Message: err.Error(),
			})
		}
		logger.Error("[Server] Retrieval failed", "tenant_id", user.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, retrieveResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, retrieveResponse{
		Message: "OK",
		Context: out,
	})
}
