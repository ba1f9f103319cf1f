package middleware

import (
	"context"

	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/query"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// AppUser is the authenticated caller. Every request is scoped to its
// tenant.
type AppUser struct {
	Subject     string
	TenantID    string
	Role        string
	Permissions []string
}

// Retriever answers retrieval requests.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, queryText string, hops, maxNodes int, opts ...query.RetrieveOption) (*query.Context, error)
}

type App struct {
	Storage    store.GraphStorage
	Queue      queue.Publisher
	Keyfunc    jwt.Keyfunc
	S3         storage.ObjectStore
	Bucket     string
	Retriever  Retriever
	Ontologies *ontology.Cache

	MasterAPIKey   string
	MasterTenantID string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
