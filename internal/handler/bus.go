package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/layout"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// LayoutSource resolves a bus and its seats; *layout.Catalog satisfies it.
type LayoutSource interface {
	Layout(ctx context.Context, busID string) (model.Bus, []model.Seat, error)
}

// BookedSource reports booked seats; *repository.BookingRepo satisfies it.
type BookedSource interface {
	BookedSeats(ctx context.Context, busID string) ([]int, error)
}

// BookingLister lists a customer's bookings.
type BookingLister interface {
	ListByUser(ctx context.Context, userID string) ([]repository.BookingDetail, error)
}

// BusHandler serves bus details and seat layouts to anonymous browsers.
type BusHandler struct {
	Catalog  LayoutSource
	Booked   BookedSource
	Bookings BookingLister
}

func NewBusHandler(catalog LayoutSource, booked BookedSource, bookings BookingLister) *BusHandler {
	return &BusHandler{Catalog: catalog, Booked: booked, Bookings: bookings}
}

// GetBus returns {"success": true, "bus": {...}}.
func (h *BusHandler) GetBus(c echo.Context) error {
	bus, _, err := h.Catalog.Layout(c.Request().Context(), c.Param("id"))
	if err != nil {
		return busError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "bus": bus})
}

// GetSeats returns the bus layout in rows with each seat marked available
// or booked.  Holds are not included: they are live state delivered over
// the seat channel.
func (h *BusHandler) GetSeats(c echo.Context) error {
	ctx := c.Request().Context()
	busID := c.Param("id")
	bus, seats, err := h.Catalog.Layout(ctx, busID)
	if err != nil {
		return busError(c, err)
	}
	booked, err := h.Booked.BookedSeats(ctx, busID)
	if err != nil {
		log.Printf("bus: booked seats of %s: %v", busID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}
	return c.JSON(http.StatusOK, layout.Response{
		Success:    true,
		Bus:        bus,
		SeatLayout: layout.FromSeats(seats, booked),
	})
}

// MyBookings lists the caller's confirmed bookings, newest first.
func (h *BusHandler) MyBookings(c echo.Context) error {
	if _, err := getUserID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Bookings.ListByUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func busError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrBusNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "bus not found"})
	}
	log.Printf("bus: %s: %v", c.Param("id"), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
}
