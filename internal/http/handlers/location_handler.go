// README: Presence handlers: drivers publish their own presence, admins list who is online.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

const maxOnlineLimit = 500

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type presenceReq struct {
	Online      *bool        `json:"online"`
	Coords      *types.Point `json:"coords"`
	VehicleType string       `json:"vehicleType"`
	DeviceToken string       `json:"deviceToken"`
}

type presenceResp struct {
	OK       bool         `json:"ok"`
	Presence presenceView `json:"presence"`
}

type onlineResp struct {
	OK      bool           `json:"ok"`
	Drivers []presenceView `json:"drivers"`
}

// Presence updates the caller's own record. online=false takes the driver
// off the map without touching the rest of the record.
func (h *LocationHandler) Presence(c *gin.Context) {
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, order.KindValidation, "invalid json")
		return
	}
	uid := types.ID(middleware.CallerUID(c))
	if req.Online != nil && !*req.Online {
		if err := h.location.GoOffline(c.Request.Context(), uid); err != nil {
			writePresenceError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"ok": true})
		return
	}
	tok := middleware.CallerToken(c)
	vt := callerVehicle(tok, "")
	if vt == "" {
		vt = types.VehicleType(req.VehicleType)
	}
	p, err := h.location.Upsert(c.Request.Context(), location.PresenceUpdate{
		DriverID:    uid,
		Name:        tok.Name(),
		Online:      true,
		Coords:      req.Coords,
		VehicleType: vt,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		writePresenceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, presenceResp{OK: true, Presence: toPresenceView(p)})
}

func (h *LocationHandler) Online(c *gin.Context) {
	limit := maxOnlineLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, order.KindValidation, "invalid limit")
			return
		}
		limit = min(n, maxOnlineLimit)
	}
	ps, err := h.location.Online(c.Request.Context(), limit)
	if err != nil {
		writePresenceError(c, err)
		return
	}
	resp := onlineResp{OK: true, Drivers: make([]presenceView, 0, len(ps))}
	for _, p := range ps {
		resp.Drivers = append(resp.Drivers, toPresenceView(p))
	}
	writeJSON(c, http.StatusOK, resp)
}
