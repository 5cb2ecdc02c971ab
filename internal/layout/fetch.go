package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Response is the body of GET /v1/buses/:id/seats.
type Response struct {
	Success    bool      `json:"success"`
	Bus        model.Bus `json:"bus"`
	SeatLayout Layout    `json:"seatLayout"`
}

// Fetcher loads layouts from the HTTP API.
type Fetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewFetcher returns a Fetcher with a 10s client timeout.
func NewFetcher(baseURL, token string) *Fetcher {
	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns the layout of bus.  Any failure, or an empty layout, falls
// back to Default(bus.TotalSeats, bus.AvailableSeats).
func (f *Fetcher) Fetch(ctx context.Context, bus model.Bus) Layout {
	l, err := f.fetch(ctx, bus.ID)
	if err != nil {
		log.Printf("layout: fetch bus %s: %v; using default layout", bus.ID, err)
		return Default(bus.TotalSeats, bus.AvailableSeats)
	}
	if l.Len() == 0 {
		return Default(bus.TotalSeats, bus.AvailableSeats)
	}
	return l
}

// Bus loads the bus details from GET /v1/buses/:id.
func (f *Fetcher) Bus(ctx context.Context, busID string) (model.Bus, error) {
	var body struct {
		Success bool      `json:"success"`
		Bus     model.Bus `json:"bus"`
	}
	if err := f.getJSON(ctx, "/v1/buses/"+url.PathEscape(busID), &body); err != nil {
		return model.Bus{}, err
	}
	if !body.Success || body.Bus.ID == "" {
		return model.Bus{}, fmt.Errorf("bus %s: request not successful", busID)
	}
	return body.Bus, nil
}

func (f *Fetcher) fetch(ctx context.Context, busID string) (Layout, error) {
	if busID == "" {
		return nil, fmt.Errorf("empty bus id")
	}
	var body Response
	if err := f.getJSON(ctx, "/v1/buses/"+url.PathEscape(busID)+"/seats", &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("layout request not successful")
	}
	return body.SeatLayout, nil
}

func (f *Fetcher) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
