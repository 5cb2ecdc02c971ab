package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/bus-seat-reservation/internal/utils"
)

// AnonymousUser is the identity of requests that carry no token.
const AnonymousUser = "anonymous"

// JWTAuth returns an Echo middleware that requires a valid Bearer access
// token and stores its subject under "user_id" in the context.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            sub, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set("user_id", sub)
            return next(c)
        }
    }
}

// OptionalJWT is like JWTAuth but lets requests without a token through as
// AnonymousUser.  A token that is present but invalid is still rejected.
// Browsers cannot set headers on a WebSocket handshake, so the token may
// also arrive as the "token" query parameter.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                raw = strings.TrimSpace(c.QueryParam("token"))
            }
            if raw == "" {
                c.Set("user_id", AnonymousUser)
                return next(c)
            }
            sub, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set("user_id", sub)
            return next(c)
        }
    }
}

func bearerToken(c echo.Context) string {
    auth := c.Request().Header.Get("Authorization")
    if !strings.HasPrefix(auth, "Bearer ") {
        return ""
    }
    return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
