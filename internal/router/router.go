package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// Handlers bundles the handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth  *handler.AuthHandler
	Bus   *handler.BusHandler
	Seats *handler.SeatChannelHandler
	Rooms func() []string
}

// Options carries the secrets and middleware settings used by the routes.
// A nil Redis client disables caching and rate limiting.
type Options struct {
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterRoutes mounts every endpoint on e.
func RegisterRoutes(e *echo.Echo, h Handlers, opt Options) {
	e.Validator = handler.NewRequestValidator()

	// liveness probe for load balancers
	e.GET("/healthz", handler.Health(h.Rooms))

	RegisterAuth(e, h.Auth, opt.JWTSecret)
	RegisterBuses(e, h.Bus, h.Seats, opt)
}

// RegisterAuth registers the account endpoints.  Register, login and
// refresh need no session.  Logout accepts either a refresh token in the
// body or a bearer token, in which case every refresh token of the user is
// revoked.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, middleware.OptionalJWT(jwtSecret))

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterBuses registers the bus browsing endpoints and the seat channel.
// Browsing is anonymous; a bearer token (or ?token= on the WebSocket,
// since browsers cannot set headers there) only attaches an identity.
func RegisterBuses(e *echo.Echo, b *handler.BusHandler, ws *handler.SeatChannelHandler, opt Options) {
	limit := middleware.NewTokenBucket(opt.RateLimit, opt.Redis)
	optional := middleware.OptionalJWT(opt.JWTSecret)

	g := e.Group("/v1/buses", limit)
	// bus details change rarely; the seat map must stay live and is never cached
	g.GET("/:id", b.GetBus, middleware.NewRedisCache(opt.Cache, opt.Redis))
	g.GET("/:id/seats", b.GetSeats)
	g.GET("/:id/ws", ws.Serve, optional)

	e.GET("/v1/my-bookings", b.MyBookings, middleware.JWTAuth(opt.JWTSecret))
}
