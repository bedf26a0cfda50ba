// README: Error taxonomy shared by the order, matching and HTTP layers.
package order

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("order not found")
	ErrOrderNotAvailable = errors.New("order not available")
	ErrVehicleMismatch   = errors.New("vehicle type mismatch")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrUnavailable       = errors.New("order store unavailable")
)

// Error kinds returned by KindOf.
const (
	KindValidation     = "validation"
	KindUnauthorized   = "unauthorized"
	KindForbidden      = "forbidden"
	KindNotFound       = "not_found"
	KindNotAvailable   = "order_not_available"
	KindVehicle        = "vehicle_mismatch"
	KindInvalidState   = "invalid_state"
	KindInfrastructure = "infrastructure"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrBadRequest, KindValidation},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrOrderNotAvailable, KindNotAvailable},
	{ErrVehicleMismatch, KindVehicle},
	{ErrInvalidState, KindInvalidState},
	{ErrUnavailable, KindInfrastructure},
}

// KindOf classifies err. Anything unrecognised is treated as infrastructure.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInfrastructure
}

// isDomain reports whether err already carries a taxonomy kind.
func isDomain(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}

// unavailable tags a backend failure so callers can tell it from a conflict.
func unavailable(op string, err error) error {
	if err == nil || isDomain(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
