package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/middleware"
	"github.com/joaovsf/fitbook/internal/model"
)

// LedgerHandler serves credit purchases and balance queries.  Account
// paths carry the owner kind and id: /v1/ledger/:kind/:id/....
type LedgerHandler struct {
	Engine *engine.Engine
}

func NewLedgerHandler(e *engine.Engine) *LedgerHandler {
	if e == nil {
		panic("nil engine passed to NewLedgerHandler")
	}
	return &LedgerHandler{Engine: e}
}

type purchaseRequest struct {
	Qty       int    `json:"qty"`
	Reference string `json:"reference"`
}

// Purchase handles POST /v1/ledger/:kind/:id/purchase.  Payment
// processing lives outside the engine; this route records the already
// settled package purchase and returns the updated balance.
func (h *LedgerHandler) Purchase(c echo.Context) error {
	ref, ok := accountRef(c)
	if !ok {
		return nil
	}
	var body purchaseRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	bal, err := h.Engine.Purchase(c.Request().Context(), ref, body.Qty, body.Reference)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, bal)
}

// Balance handles GET /v1/ledger/:kind/:id/balance.  Owners may read
// their own balance; admins may read any.
func (h *LedgerHandler) Balance(c echo.Context) error {
	ref, ok := accountRef(c)
	if !ok {
		return nil
	}
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if actor.Role != model.RoleAdmin && !ownsAccount(actor, ref) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	bal, err := h.Engine.GetBalance(c.Request().Context(), ref)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bal)
}

// Reconcile handles POST /v1/ledger/:kind/:id/reconcile.  It replays the
// account's transaction log against the stored counters and fails loudly
// on divergence.
func (h *LedgerHandler) Reconcile(c echo.Context) error {
	ref, ok := accountRef(c)
	if !ok {
		return nil
	}
	if err := h.Engine.Reconcile(c.Request().Context(), ref); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "consistent"})
}

// ownsAccount reports whether the actor is the owner of the referenced
// account, matching role against the account family.
func ownsAccount(actor model.Actor, ref model.AccountRef) bool {
	if actor.ID != ref.OwnerID {
		return false
	}
	switch ref.OwnerKind {
	case model.OwnerStudent:
		return actor.Role == model.RoleStudent
	case model.OwnerTeacher:
		return actor.Role == model.RoleTeacher
	}
	return false
}

// accountRef parses the owner kind and id path segments, writing the 400
// response itself on failure.
func accountRef(c echo.Context) (model.AccountRef, bool) {
	kind := model.OwnerKind(strings.ToUpper(c.Param("kind")))
	switch kind {
	case model.OwnerStudent, model.OwnerTeacher:
	default:
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be student or teacher"})
		return model.AccountRef{}, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid owner id"})
		return model.AccountRef{}, false
	}
	return model.AccountRef{OwnerID: id, OwnerKind: kind}, true
}
