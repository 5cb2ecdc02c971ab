package handler // handler defines http handlers

import (
    "errors"  // errors provides sentinel values used in getUserID
    "net/http"
    "strconv" // strconv converts strings to numeric types

    "github.com/go-playground/validator/v10"
    "github.com/labstack/echo/v4" // echo defines request context types

    "github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RequestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate on bound request bodies.
type RequestValidator struct {
    v *validator.Validate
}

// NewRequestValidator returns a validator honouring `validate` struct tags.
func NewRequestValidator() *RequestValidator {
    return &RequestValidator{v: validator.New()}
}

func (rv *RequestValidator) Validate(i interface{}) error {
    return rv.v.Struct(i)
}

// bindValid binds the JSON body into req and validates it.  On failure it
// writes the 400 response itself and returns false.
func bindValid(c echo.Context, req interface{}) (bool, error) {
    if err := c.Bind(req); err != nil {
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if err := c.Validate(req); err != nil {
        var verrs validator.ValidationErrors
        if errors.As(err, &verrs) && len(verrs) > 0 {
            return false, c.JSON(http.StatusBadRequest, echo.Map{
                "error": "validation failed",
                "field": verrs[0].Field(),
                "rule":  verrs[0].Tag(),
            })
        }
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed"})
    }
    return true, nil
}

// getUserID returns the numeric id of the authenticated caller.
func getUserID(c echo.Context) (uint64, error) {
    uid := middleware.UserID(c)
    n, err := strconv.ParseUint(uid, 10, 64)
    if err != nil || n == 0 {
        return 0, errors.New("invalid user_id in context")
    }
    return n, nil
}
