package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/handler"
	"github.com/joaovsf/fitbook/internal/middleware"
	"github.com/joaovsf/fitbook/internal/model"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Booking *handler.BookingHandler
	Slot    *handler.SlotHandler
	Ledger  *handler.LedgerHandler
	Policy  *handler.PolicyHandler
}

// Register mounts all routes on the provided Echo instance.  Public
// browse endpoints take no middleware; everything else requires a valid
// token, role guards per route, and the rate limiter on booking
// mutations.
func Register(e *echo.Echo, h Handlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)

	// Guests may browse availability and read the active rule set
	// before authenticating.
	e.GET("/v1/units/:id/slots", h.Slot.Available)
	e.GET("/v1/policies/active", h.Policy.Active)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	// Booking lifecycle.  The rate limiter only wraps the mutation
	// routes; reads stay cheap.
	b := auth.Group("/bookings")
	b.GET("/:id", h.Booking.Get)
	bm := auth.Group("/bookings", limiter)
	bm.POST("", h.Booking.Create,
		middleware.RequireRole(model.RoleStudent, model.RoleTeacher, model.RoleAdmin))
	bm.POST("/:id/confirm", h.Booking.Confirm,
		middleware.RequireRole(model.RoleStudent, model.RoleAdmin))
	bm.POST("/:id/cancel", h.Booking.Cancel,
		middleware.RequireRole(model.RoleStudent, model.RoleTeacher, model.RoleAdmin))
	bm.POST("/:id/complete", h.Booking.Complete,
		middleware.RequireRole(model.RoleTeacher, model.RoleAdmin))
	bm.POST("/:id/reschedule", h.Booking.Reschedule,
		middleware.RequireRole(model.RoleStudent, model.RoleAdmin))
	bm.POST("/:id/no-show", h.Booking.NoShow,
		middleware.RequireRole(model.RoleAdmin))

	// Slot administration.
	auth.POST("/units/:id/slots/block", h.Slot.Block,
		middleware.RequireRole(model.RoleTeacher, model.RoleAdmin))
	auth.POST("/units/:id/slots/unblock", h.Slot.Unblock,
		middleware.RequireRole(model.RoleTeacher, model.RoleAdmin))

	// Ledger.  Balance authorization (owner or admin) happens inside
	// the handler because it depends on the path parameters.
	auth.POST("/ledger/:kind/:id/purchase", h.Ledger.Purchase,
		middleware.RequireRole(model.RoleAdmin))
	auth.GET("/ledger/:kind/:id/balance", h.Ledger.Balance)
	auth.POST("/ledger/:kind/:id/reconcile", h.Ledger.Reconcile,
		middleware.RequireRole(model.RoleAdmin))

	// Policy administration.
	admin := auth.Group("/policies", middleware.RequireRole(model.RoleAdmin))
	admin.GET("", h.Policy.History)
	admin.GET("/draft", h.Policy.Draft)
	admin.PUT("/draft", h.Policy.SaveDraft)
	admin.POST("/draft/publish", h.Policy.Publish)
	admin.POST("/:version/rollback", h.Policy.Rollback)
}
