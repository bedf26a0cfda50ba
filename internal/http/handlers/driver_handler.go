// README: Driver handlers: open jobs the caller's vehicle can take.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/modules/order"
)

type DriverHandler struct {
	order *order.Service
}

func NewDriverHandler(svc *order.Service) *DriverHandler {
	return &DriverHandler{order: svc}
}

type jobsResp struct {
	OK     bool        `json:"ok"`
	Orders []orderView `json:"orders"`
}

func (h *DriverHandler) Jobs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, order.KindValidation, "invalid limit")
			return
		}
		limit = n
	}
	vt := callerVehicle(middleware.CallerToken(c), c.Query("vehicleType"))
	orders, err := h.order.ListOpen(c.Request.Context(), order.ListOpenQuery{VehicleType: vt, Limit: limit})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	resp := jobsResp{OK: true, Orders: make([]orderView, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderView(o))
	}
	writeJSON(c, http.StatusOK, resp)
}
