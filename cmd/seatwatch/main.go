// Command seatwatch joins the seat channel of one bus from the terminal.
// It prints every live change of the seat map, can select seats for a
// number of passengers and optionally books them.
//
//	seatwatch --api http://localhost:8080 --bus bus-1 --passengers 2 --select 3,4 --book
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/iliyamo/bus-seat-reservation/internal/booking"
	"github.com/iliyamo/bus-seat-reservation/internal/layout"
	"github.com/iliyamo/bus-seat-reservation/internal/syncclient"
)

func main() {
	var (
		api        = pflag.String("api", "http://localhost:8080", "base URL of the reservation API")
		wsURL      = pflag.String("ws", "", "seat channel URL (default derived from --api)")
		busID      = pflag.String("bus", "", "bus id to watch (required)")
		token      = pflag.String("token", "", "access token; omit to browse anonymously")
		user       = pflag.String("user", "anonymous", "user id announced in seat selections")
		passengers = pflag.Int("passengers", 1, "number of passengers")
		seats      = pflag.IntSlice("select", nil, "seat numbers to select once synced")
		book       = pflag.Bool("book", false, "book the selected seats when the selection is complete")
	)
	pflag.Parse()
	if *busID == "" {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := layout.NewFetcher(*api, *token)
	bus, err := fetcher.Bus(ctx, *busID)
	if err != nil {
		log.Fatalf("seatwatch: %v", err)
	}
	seatLayout := fetcher.Fetch(ctx, bus)
	fmt.Printf("%s %s (%s): %d seats, %d available, fare %d\n",
		bus.Operator, bus.BusNumber, bus.Type, seatLayout.Len(), bus.AvailableSeats, bus.EffectiveFare())

	channelURL := *wsURL
	if channelURL == "" {
		channelURL, err = channelURLFor(*api, bus.ID)
		if err != nil {
			log.Fatalf("seatwatch: %v", err)
		}
	}
	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	ch := syncclient.New(syncclient.Config{
		URL:       channelURL,
		Header:    header,
		BusID:     bus.ID,
		UserID:    *user,
		SessionID: uuid.NewString(),
	}, nil)

	synced := make(chan struct{}, 1)
	sess := booking.New(booking.Config{
		Bus:            bus,
		Seats:          seatLayout.Seats(),
		UserID:         *user,
		PassengerCount: *passengers,
		Sender:         ch,
		Checkout: booking.CheckoutFunc(func(_ context.Context, o booking.Order) error {
			fmt.Printf("checkout: seats %v for %d passenger(s), total %d\n", o.SeatNumbers(), o.PassengerCount, o.TotalPrice)
			return nil
		}),
		Notify: func(n booking.Notice) {
			printNotice(n)
			if _, ok := n.(booking.Synced); ok {
				select {
				case synced <- struct{}{}:
				default:
				}
			}
		},
	})

	if err := ch.Open(ctx); err != nil {
		log.Fatalf("seatwatch: %v", err)
	}
	defer ch.Close()
	go func() {
		if err := sess.Run(ctx, ch.Events()); err != nil && ctx.Err() == nil {
			log.Printf("seatwatch: session: %v", err)
		}
	}()

	if len(*seats) > 0 {
		select {
		case <-synced:
		case <-ctx.Done():
			return
		}
		selectSeats(ctx, sess, *seats)
		if *book {
			proceed(ctx, sess)
		}
	}

	<-ctx.Done()
	leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sess.Do(leaveCtx, func(s *booking.Session) error {
		s.Leave()
		return nil
	})
}

// channelURLFor maps http(s)://host to ws(s)://host/v1/buses/{id}/ws.
func channelURLFor(api, busID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(api, "/"))
	if err != nil {
		return "", fmt.Errorf("parse --api: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/buses/" + url.PathEscape(busID) + "/ws"
	return u.String(), nil
}

func selectSeats(ctx context.Context, sess *booking.Session, seats []int) {
	for _, n := range seats {
		n := n
		err := sess.Do(ctx, func(s *booking.Session) error { return s.SelectSeat(n) })
		if err != nil {
			fmt.Printf("seat %d: %v\n", n, err)
			continue
		}
		fmt.Printf("seat %d: selected\n", n)
	}
}

// proceed waits up to ten seconds for every selection to be confirmed and
// then books the seats.
func proceed(ctx context.Context, sess *booking.Session) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		err := sess.Do(ctx, func(s *booking.Session) error {
			if !s.CanProceed() {
				return booking.ErrIncompleteSelection
			}
			fmt.Printf("booking %d seat(s), total %d\n", len(s.MyHolds()), s.TotalPrice())
			return s.Proceed(ctx)
		})
		if err == nil {
			return
		}
		if !errors.Is(err, booking.ErrIncompleteSelection) {
			fmt.Printf("booking: %v\n", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
	fmt.Println("booking: selection incomplete, not booking")
}

func printNotice(n booking.Notice) {
	switch n := n.(type) {
	case booking.ConnectionState:
		switch {
		case n.ReadOnly:
			fmt.Printf("connection lost for good: %v\n", n.Err)
		case n.Connected:
			fmt.Println("connected")
		default:
			fmt.Printf("disconnected: %v; reconnecting\n", n.Err)
		}
	case booking.Synced:
		if len(n.Reasserted) > 0 {
			fmt.Printf("synced, re-selected %v\n", n.Reasserted)
		} else {
			fmt.Println("synced")
		}
	case booking.Rejected:
		fmt.Printf("seat %d rejected: %v\n", n.Seat, n.Err)
	case booking.HoldExpired:
		fmt.Printf("your hold on seat %d expired\n", n.Seat)
	case booking.RaceLost:
		fmt.Printf("seats %v were booked by someone else\n", n.Seats)
	case booking.OthersReleased:
		fmt.Printf("seats %v are free again\n", n.Seats)
	case booking.Booked:
		fmt.Printf("booked seats %v\n", n.Seats)
	case booking.ServerError:
		fmt.Printf("server error %s: %s\n", n.Code, n.Message)
	}
}
