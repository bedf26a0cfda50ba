// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
)

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// isValidID accepts Firestore document ids and UUIDs.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, kind, msg string) {
	writeJSON(c, status, errorResponse{Error: kind, Message: msg})
}

var kindStatus = map[string]int{
	order.KindValidation:     http.StatusBadRequest,
	order.KindUnauthorized:   http.StatusUnauthorized,
	order.KindForbidden:      http.StatusForbidden,
	order.KindNotFound:       http.StatusNotFound,
	order.KindNotAvailable:   http.StatusConflict,
	order.KindVehicle:        http.StatusConflict,
	order.KindInvalidState:   http.StatusConflict,
	order.KindInfrastructure: http.StatusInternalServerError,
}

// writeOrderError maps the order error taxonomy onto HTTP statuses.
func writeOrderError(c *gin.Context, err error) {
	kind := order.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	_ = c.Error(err)
	writeError(c, status, kind, err.Error())
}

func writePresenceError(c *gin.Context, err error) {
	switch err {
	case location.ErrInvalidUpdate:
		writeError(c, http.StatusBadRequest, order.KindValidation, err.Error())
	case location.ErrNotFound:
		writeError(c, http.StatusNotFound, order.KindNotFound, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, order.KindInfrastructure, err.Error())
	}
}

func orderID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, order.KindValidation, "invalid order id")
		return "", false
	}
	return id, true
}
