// README: Order handlers: create/get/cancel, accept and the assigned driver's progress calls.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/infra"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/types"
)

type OrderHandler struct {
	order *order.Service
	hub   *notify.Hub
}

func NewOrderHandler(svc *order.Service, hub *notify.Hub) *OrderHandler {
	return &OrderHandler{order: svc, hub: hub}
}

type createOrderReq struct {
	Service     string       `json:"service"`
	VehicleType string       `json:"vehicleType"`
	Pickup      *order.Place `json:"pickup"`
	Merchant    *order.Place `json:"merchant"`
}

type acceptReq struct {
	VehicleType string `json:"vehicleType"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type okOrderResp struct {
	OK    bool      `json:"ok"`
	Order orderView `json:"order"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	if middleware.CallerRole(c) == infra.RoleDriver {
		writeError(c, http.StatusForbidden, order.KindForbidden, "drivers cannot create orders")
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, order.KindValidation, "invalid json")
		return
	}
	vt, ok := types.ParseVehicleType(req.VehicleType)
	if !ok {
		writeError(c, http.StatusBadRequest, order.KindValidation, "unknown vehicleType")
		return
	}
	tok := middleware.CallerToken(c)
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:    types.ID(middleware.CallerUID(c)),
		CustomerName:  tok.Name(),
		CustomerEmail: tok.Email(),
		Service:       order.ServiceKind(req.Service),
		VehicleType:   vt,
		Pickup:        req.Pickup,
		Merchant:      req.Merchant,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, okOrderResp{OK: true, Order: toOrderView(o)})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.View(c.Request.Context(), h.viewCommand(c, id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okOrderResp{OK: true, Order: toOrderView(o)})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:    types.ID(id),
		ActorID:    types.ID(middleware.CallerUID(c)),
		Privileged: middleware.Privileged(c),
		Reason:     req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okOrderResp{OK: true, Order: toOrderView(o)})
}

// Accept claims a searching order for the calling driver. The vehicle type
// comes from the token claim, falling back to the request body.
func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req acceptReq
	_ = c.ShouldBindJSON(&req)
	tok := middleware.CallerToken(c)
	o, err := h.order.Accept(c.Request.Context(), order.AcceptCommand{
		OrderID:     types.ID(id),
		DriverID:    types.ID(middleware.CallerUID(c)),
		VehicleType: callerVehicle(tok, req.VehicleType),
		Name:        tok.Name(),
		Email:       tok.Email(),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okOrderResp{OK: true, Order: toOrderView(o)})
}

func (h *OrderHandler) Depart(c *gin.Context) { h.progress(c, h.order.Depart) }
func (h *OrderHandler) Start(c *gin.Context)  { h.progress(c, h.order.Start) }
func (h *OrderHandler) Finish(c *gin.Context) { h.progress(c, h.order.Finish) }

func (h *OrderHandler) progress(c *gin.Context, step func(context.Context, order.ProgressCommand) (*order.Order, error)) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := step(c.Request.Context(), order.ProgressCommand{
		OrderID:  types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okOrderResp{OK: true, Order: toOrderView(o)})
}

type driverLocationReq struct {
	Coords *types.Point `json:"coords"`
}

func (h *OrderHandler) DriverLocation(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req driverLocationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Coords == nil {
		writeError(c, http.StatusBadRequest, order.KindValidation, "coords required")
		return
	}
	o, err := h.order.UpdateDriverLocation(c.Request.Context(), order.DriverLocationCommand{
		OrderID:  types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
		Coords:   *req.Coords,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okOrderResp{OK: true, Order: toOrderView(o)})
}

// Watch streams changes of one order over a websocket, starting with the
// current state. Visibility follows Get.
func (h *OrderHandler) Watch(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	cmd := h.viewCommand(c, id)
	if _, err := h.order.View(c.Request.Context(), cmd); err != nil {
		writeOrderError(c, err)
		return
	}
	// The snapshot is read again once the watcher is registered.
	load := func(ctx context.Context) (interface{}, error) {
		o, err := h.order.View(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return okOrderResp{OK: true, Order: toOrderView(o)}, nil
	}
	if err := h.hub.Serve(c.Writer, c.Request, cmd.OrderID, load); err != nil {
		_ = c.Error(err)
	}
}

func (h *OrderHandler) viewCommand(c *gin.Context, id string) order.ViewCommand {
	return order.ViewCommand{
		OrderID:    types.ID(id),
		CallerID:   types.ID(middleware.CallerUID(c)),
		AsDriver:   middleware.CallerRole(c) == infra.RoleDriver,
		Privileged: middleware.Privileged(c),
	}
}

// callerVehicle prefers the token claim; "any" is never a driver's vehicle.
func callerVehicle(tok *infra.Token, fallback string) types.VehicleType {
	for _, s := range []string{tok.VehicleType(), fallback} {
		if vt := types.VehicleType(s); vt.Concrete() {
			return vt
		}
	}
	return ""
}
