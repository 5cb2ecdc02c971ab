package handler // declare the package name; contains HTTP handlers

import (
    "net/http" // net/http provides status codes and response helpers

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Health reports liveness together with the number of buses that currently
// have an active seat room.  Load balancers only look at the status code.
func Health(rooms func() []string) echo.HandlerFunc {
    return func(c echo.Context) error {
        n := 0
        if rooms != nil {
            n = len(rooms())
        }
        return c.JSON(http.StatusOK, echo.Map{"status": "ok", "rooms": n})
    }
}
