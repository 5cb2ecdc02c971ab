package middleware

// identity.go holds the helper that reads the caller's identity, as set by
// JWTAuth or OptionalJWT, back out of the Echo context.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject stored in the context, or
// AnonymousUser when none is set.
func UserID(c echo.Context) string {
    if v, ok := c.Get("user_id").(string); ok && v != "" {
        return v
    }
    return AnonymousUser
}
