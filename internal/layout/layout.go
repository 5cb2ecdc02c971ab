// Package layout builds the seat map of a bus: the stored layout when the
// catalogue has one, otherwise a deterministic default derived from the
// seat counts alone.
package layout

import (
	"sort"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// SeatsPerRow is the width of the default layout.
const SeatsPerRow = 4

// DefaultTotalSeats is used when a bus does not report its capacity.
const DefaultTotalSeats = 40

// Seat statuses carried by a layout.
const (
	StatusAvailable = "available"
	StatusBooked    = "booked"
)

// SeatView is a seat plus its base status.
type SeatView struct {
	model.Seat
	Status string `json:"status"`
}

// Layout is the seat map in rows, front to back.
type Layout [][]SeatView

// Default generates the fallback layout: four seats per row, the outer
// columns are window seats and the inner ones aisle seats.  Seat n is
// marked booked iff n > totalSeats-availableSeats.  Non-positive
// totalSeats means 40 and non-positive availableSeats means every seat is
// available.
func Default(totalSeats, availableSeats int) Layout {
	if totalSeats <= 0 {
		totalSeats = DefaultTotalSeats
	}
	if availableSeats <= 0 {
		availableSeats = totalSeats
	}
	rows := (totalSeats + SeatsPerRow - 1) / SeatsPerRow
	out := make(Layout, 0, rows)
	for r := 0; r < rows; r++ {
		row := make([]SeatView, 0, SeatsPerRow)
		for col := 0; col < SeatsPerRow; col++ {
			n := r*SeatsPerRow + col + 1
			if n > totalSeats {
				break
			}
			class := model.SeatAisle
			if col == 0 || col == SeatsPerRow-1 {
				class = model.SeatWindow
			}
			status := StatusAvailable
			if n > totalSeats-availableSeats {
				status = StatusBooked
			}
			row = append(row, SeatView{
				Seat:   model.Seat{Number: n, Class: class, PriceMultiplier: class.Multiplier(), Row: r},
				Status: status,
			})
		}
		out = append(out, row)
	}
	return out
}

// FromSeats groups seats by row and marks the booked ones.
func FromSeats(seats []model.Seat, booked []int) Layout {
	isBooked := make(map[int]bool, len(booked))
	for _, n := range booked {
		isBooked[n] = true
	}
	sorted := append([]model.Seat(nil), seats...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Number < sorted[j].Number
	})
	var out Layout
	for i, s := range sorted {
		if i == 0 || s.Row != sorted[i-1].Row {
			out = append(out, nil)
		}
		status := StatusAvailable
		if isBooked[s.Number] {
			status = StatusBooked
		}
		out[len(out)-1] = append(out[len(out)-1], SeatView{Seat: s, Status: status})
	}
	return out
}

// Seats flattens the layout in row order.
func (l Layout) Seats() []model.Seat {
	var out []model.Seat
	for _, row := range l {
		for _, s := range row {
			out = append(out, s.Seat)
		}
	}
	return out
}

// Booked returns the numbers of the seats marked booked, ascending.
func (l Layout) Booked() []int {
	var out []int
	for _, row := range l {
		for _, s := range row {
			if s.Status == StatusBooked {
				out = append(out, s.Number)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Len returns the number of seats.
func (l Layout) Len() int {
	n := 0
	for _, row := range l {
		n += len(row)
	}
	return n
}
