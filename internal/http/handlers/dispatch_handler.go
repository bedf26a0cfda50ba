// README: Dispatch handler: ranks drivers for an order and returns the snapshot.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

type DispatchHandler struct {
	matching *matching.Service
}

func NewDispatchHandler(svc *matching.Service) *DispatchHandler {
	return &DispatchHandler{matching: svc}
}

type dispatchReq struct {
	OrderID string  `json:"orderId"`
	MaxKm   float64 `json:"maxKm"`
}

type dispatchResp struct {
	OK bool `json:"ok"`
	matching.DispatchResult
}

func (h *DispatchHandler) Dispatch(c *gin.Context) {
	var req dispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, order.KindValidation, "invalid json")
		return
	}
	if req.OrderID == "" {
		writeError(c, http.StatusBadRequest, order.KindValidation, "missing orderId")
		return
	}
	if !isValidID(req.OrderID) || req.MaxKm < 0 {
		writeError(c, http.StatusBadRequest, order.KindValidation, "invalid request")
		return
	}
	res, err := h.matching.Dispatch(c.Request.Context(), matching.DispatchCommand{
		OrderID:  types.ID(req.OrderID),
		CallerID: types.ID(middleware.CallerUID(c)),
		Trusted:  middleware.Privileged(c),
		MaxKm:    req.MaxKm,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dispatchResp{OK: true, DispatchResult: res})
}
