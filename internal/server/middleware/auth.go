package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	"ontology.write",
	"document.write",
	"graph.read",
}

// defaultPermissions apply to tokens without a permissions claim.
var defaultPermissions = []string{"graph.read"}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		app := c.(*AppContext).App

		// Master API Key bypass
		if app.MasterAPIKey != "" && app.MasterTenantID != "" && token == app.MasterAPIKey {
			c.(*AppContext).User = &AppUser{
				Subject:     "master",
				TenantID:    app.MasterTenantID,
				Role:        "admin",
				Permissions: allPermissions,
			}
			return next(c)
		}

		if app.Keyfunc == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		parsed, err := jwt.Parse(token, app.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		tenantID, _ := claims["tenant_id"].(string)
		if tenantID == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing tenant"})
		}
		subject, _ := claims.GetSubject()

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		switch {
		case role == "admin" && len(permissions) == 0:
			permissions = allPermissions
		case len(permissions) == 0:
			permissions = defaultPermissions
		}

		c.(*AppContext).User = &AppUser{
			Subject:     subject,
			TenantID:    tenantID,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}
