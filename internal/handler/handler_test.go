package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/coordinator"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

const testSecret = "test-secret"

// ----- fakes -----

type fakeUsers struct {
	byEmail map[string]model.User
	nextID  uint64
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byEmail: map[string]model.User{}, nextID: 1} }

func (f *fakeUsers) Create(_ context.Context, name, email, password string, cost int) (uint64, error) {
	if _, ok := f.byEmail[email]; ok {
		return 0, repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	u := model.User{ID: f.nextID, Name: name, Email: email, PasswordHash: hash}
	f.byEmail[email] = u
	f.nextID++
	return u.ID, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	u, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

type fakeTokens struct {
	live       map[string]uint64
	revokedAll []uint64
}

func newFakeTokens() *fakeTokens { return &fakeTokens{live: map[string]uint64{}} }

func (f *fakeTokens) StoreRefresh(_ context.Context, userID uint64, hash string, _ time.Time) error {
	f.live[hash] = userID
	return nil
}

func (f *fakeTokens) Rotate(_ context.Context, oldHash, newHash string, _ time.Time) (uint64, error) {
	uid, ok := f.live[oldHash]
	if !ok {
		return 0, repository.ErrInvalidRefresh
	}
	delete(f.live, oldHash)
	f.live[newHash] = uid
	return uid, nil
}

func (f *fakeTokens) Revoke(_ context.Context, hash string) (uint64, error) {
	uid, ok := f.live[hash]
	if !ok {
		return 0, repository.ErrInvalidRefresh
	}
	delete(f.live, hash)
	return uid, nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	f.revokedAll = append(f.revokedAll, userID)
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) Layout(_ context.Context, busID string) (model.Bus, []model.Seat, error) {
	if busID != "bus-1" {
		return model.Bus{}, nil, repository.ErrBusNotFound
	}
	bus := model.Bus{ID: "bus-1", Operator: "Volvo", BusNumber: "KA-01", Price: 500, TotalSeats: 4, AvailableSeats: 3}
	seats := []model.Seat{
		{Number: 1, Class: model.SeatWindow, PriceMultiplier: 1.1, Row: 0},
		{Number: 2, Class: model.SeatAisle, PriceMultiplier: 1, Row: 0},
		{Number: 3, Class: model.SeatAisle, PriceMultiplier: 1, Row: 0},
		{Number: 4, Class: model.SeatWindow, PriceMultiplier: 1.1, Row: 0},
	}
	return bus, seats, nil
}

type fakeBooked map[string][]int

func (f fakeBooked) BookedSeats(_ context.Context, busID string) ([]int, error) { return f[busID], nil }

func (f fakeBooked) ListByUser(_ context.Context, userID string) ([]repository.BookingDetail, error) {
	return []repository.BookingDetail{{ID: 7, Reference: "ref-7", BusID: "bus-1", Seats: []int{3}}}, nil
}

// ----- helpers -----

type authFixture struct {
	e      *echo.Echo
	h      *AuthHandler
	users  *fakeUsers
	tokens *fakeTokens
}

func newAuthFixture() authFixture {
	cfg := config.Config{JWTSecret: testSecret, AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}
	f := authFixture{e: echo.New(), users: newFakeUsers(), tokens: newFakeTokens()}
	f.e.Validator = NewRequestValidator()
	f.h = NewAuthHandler(cfg, f.users, f.tokens)
	f.e.POST("/register", f.h.Register)
	f.e.POST("/login", f.h.Login)
	f.e.POST("/refresh", f.h.Refresh)
	f.e.POST("/logout", f.h.Logout, middleware.OptionalJWT(testSecret))
	f.e.GET("/me", f.h.Me, middleware.JWTAuth(testSecret))
	return f
}

func (f authFixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) authResp {
	t.Helper()
	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ----- auth -----

func TestAuth_RegisterLoginMe(t *testing.T) {
	f := newAuthFixture()

	rec := f.do(http.MethodPost, "/register", `{"name":"Asha","email":"Asha@Example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decodeAuth(t, rec)
	assert.Equal(t, "asha@example.com", reg.User.Email)
	assert.NotEmpty(t, reg.Access.Token)
	assert.Len(t, f.tokens.live, 1)

	rec = f.do(http.MethodPost, "/register", `{"name":"Asha","email":"asha@example.com","password":"secret1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/login", `{"email":"asha@example.com","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/login", `{"email":"asha@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeAuth(t, rec)

	rec = f.do(http.MethodGet, "/me", "", login.Access.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Asha"`)
}

func TestAuth_RegisterValidation(t *testing.T) {
	f := newAuthFixture()
	rec := f.do(http.MethodPost, "/register", `{"name":"Asha","email":"not-an-email","password":"secret1"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"Email"`)
	assert.Contains(t, rec.Body.String(), `"rule":"email"`)

	rec = f.do(http.MethodPost, "/register", `{"name":"Asha","email":"a@b.co","password":"123"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rule":"min"`)
}

func TestAuth_RefreshRotates(t *testing.T) {
	f := newAuthFixture()
	reg := decodeAuth(t, f.do(http.MethodPost, "/register", `{"name":"Asha","email":"a@b.co","password":"secret1"}`, ""))

	body := `{"refresh_token":"` + reg.Refresh.Token + `"}`
	rec := f.do(http.MethodPost, "/refresh", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decodeAuth(t, rec)
	assert.NotEqual(t, reg.Refresh.Token, next.Refresh.Token)

	// the old token is gone after rotation
	rec = f.do(http.MethodPost, "/refresh", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_Logout(t *testing.T) {
	f := newAuthFixture()
	reg := decodeAuth(t, f.do(http.MethodPost, "/register", `{"name":"Asha","email":"a@b.co","password":"secret1"}`, ""))

	rec := f.do(http.MethodPost, "/logout", `{"refresh_token":"`+reg.Refresh.Token+`"}`, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.tokens.live)

	rec = f.do(http.MethodPost, "/logout", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/logout", `{}`, reg.Access.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint64{reg.User.ID}, f.tokens.revokedAll)
}

// ----- buses -----

func newBusServer() *echo.Echo {
	e := echo.New()
	booked := fakeBooked{"bus-1": {3}}
	h := NewBusHandler(fakeCatalog{}, booked, booked)
	e.GET("/v1/buses/:id", h.GetBus)
	e.GET("/v1/buses/:id/seats", h.GetSeats)
	e.GET("/v1/my-bookings", h.MyBookings, middleware.JWTAuth(testSecret))
	return e
}

func TestBus_GetBus(t *testing.T) {
	e := newBusServer()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/buses/bus-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operator":"Volvo"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/buses/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBus_GetSeatsMarksBooked(t *testing.T) {
	e := newBusServer()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/buses/bus-1/seats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success    bool `json:"success"`
		SeatLayout [][]struct {
			SeatNumber int    `json:"seatNumber"`
			Status     string `json:"status"`
		} `json:"seatLayout"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.SeatLayout, 1)
	require.Len(t, body.SeatLayout[0], 4)
	for _, s := range body.SeatLayout[0] {
		want := "available"
		if s.SeatNumber == 3 {
			want = "booked"
		}
		assert.Equal(t, want, s.Status, "seat %d", s.SeatNumber)
	}
}

func TestBus_MyBookingsNeedsToken(t *testing.T) {
	e := newBusServer()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/my-bookings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := utils.NewAccessToken(testSecret, 9, "Asha", 5)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/my-bookings", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reference":"ref-7"`)
}

// ----- seat channel -----

func TestSeatChannel_JoinReceivesSnapshot(t *testing.T) {
	hub := coordinator.NewHub(coordinator.Config{
		Holds:    coordinator.NewMemoryStore(),
		Bookings: coordinator.NewMemoryBookings(map[string][]int{"bus-1": {4}}),
		Catalog:  fakeCatalog{},
	})
	h := NewSeatChannelHandler(hub, fakeCatalog{}, nil)
	e := echo.New()
	e.GET("/v1/buses/:id/ws", h.Serve, middleware.OptionalJWT(testSecret))
	srv := httptest.NewServer(e)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/v1/buses/nope/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/v1/buses/bus-1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	join, err := protocol.Encode(protocol.JoinBus{BusID: "bus-1", SessionID: "s-1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)
	snap, ok := msg.(protocol.SeatStatus)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, []int{4}, snap.BookedSeats)
	assert.Empty(t, snap.Held)
	assert.Equal(t, hub.PublicHolderID("s-1"), snap.Self)

	sel, err := protocol.Encode(protocol.SelectSeat{BusID: "bus-1", SeatNumber: 2, Action: protocol.ActionSelect})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sel))
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	msg, err = protocol.Decode(raw)
	require.NoError(t, err)
	held, ok := msg.(protocol.SeatHeld)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 2, held.SeatNumber)
	assert.Equal(t, []string{"bus-1"}, hub.Rooms())
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, originChecker(nil)(req("https://evil.test")))
	assert.True(t, originChecker([]string{"*"})(req("https://evil.test")))

	check := originChecker([]string{"https://app.example.com"})
	assert.True(t, check(req("https://app.example.com")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.test")))
}
