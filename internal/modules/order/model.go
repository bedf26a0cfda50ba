// README: Order aggregate, status definitions and the transition table.
package order

import (
	"time"

	"ridedispatch/internal/types"
)

type Status string

const (
	StatusSearching      Status = "searching"
	StatusAssigned       Status = "assigned"
	StatusDriverArriving Status = "driver_arriving"
	StatusOngoing        Status = "ongoing"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type ServiceKind string

const (
	ServiceRide     ServiceKind = "ride"
	ServiceDelivery ServiceKind = "delivery"
	ServiceMerchant ServiceKind = "merchant"
	ServiceLaundry  ServiceKind = "laundry"
)

func (k ServiceKind) Valid() bool {
	switch k {
	case ServiceRide, ServiceDelivery, ServiceMerchant, ServiceLaundry:
		return true
	}
	return false
}

type Place struct {
	Address string       `json:"address" firestore:"address"`
	Coords  *types.Point `json:"coords" firestore:"coords"`
}

type Party struct {
	UID    types.ID     `json:"uid" firestore:"uid"`
	Name   string       `json:"name,omitempty" firestore:"name,omitempty"`
	Email  string       `json:"email,omitempty" firestore:"email,omitempty"`
	Coords *types.Point `json:"coords,omitempty" firestore:"coords"`
}

// Candidate is one entry of a ranking snapshot. It never authorizes an assignment.
type Candidate struct {
	UID            types.ID          `json:"uid" firestore:"uid"`
	Name           string            `json:"name,omitempty" firestore:"name,omitempty"`
	VehicleType    types.VehicleType `json:"vehicleType" firestore:"vehicleType"`
	DistanceMeters float64           `json:"distanceMeters" firestore:"distanceMeters"`
	DeviceToken    string            `json:"-" firestore:"-"`
}

type Order struct {
	ID                  types.ID
	Status              Status
	Service             ServiceKind
	VehicleType         types.VehicleType
	Pickup              *Place
	Merchant            *Place
	Customer            Party
	Driver              *Party
	CandidateUIDs       []types.ID
	Candidates          []Candidate
	CandidatesUpdatedAt *time.Time
	CreatedAt           time.Time
	AssignedAt          *time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	UpdatedAt           time.Time
	DriverUpdatedAt     *time.Time
}

// PickupPoint is where matching measures from: the pickup, or the merchant
// for merchant orders that only carry a store location.
func (o *Order) PickupPoint() *types.Point {
	if o.Pickup != nil && o.Pickup.Coords != nil {
		return o.Pickup.Coords
	}
	if o.Merchant != nil && o.Merchant.Coords != nil {
		return o.Merchant.Coords
	}
	return nil
}

// AssignedTo reports whether driverID holds the order.
func (o *Order) AssignedTo(driverID types.ID) bool {
	return o.Driver != nil && o.Driver.UID != "" && o.Driver.UID == driverID
}

// Patch names the fields a guarded update may change. Nil fields are left
// untouched by every store, which keeps candidate writes and status writes
// from clobbering each other.
type Patch struct {
	Status          *Status
	Driver          *Party
	AssignedAt      *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	UpdatedAt       *time.Time
	DriverUpdatedAt *time.Time
}

// Apply copies the set fields of p onto o.
func (p Patch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Driver != nil {
		d := *p.Driver
		o.Driver = &d
	}
	if p.AssignedAt != nil {
		o.AssignedAt = p.AssignedAt
	}
	if p.StartedAt != nil {
		o.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		o.CompletedAt = p.CompletedAt
	}
	if p.CancelledAt != nil {
		o.CancelledAt = p.CancelledAt
	}
	if p.UpdatedAt != nil {
		o.UpdatedAt = *p.UpdatedAt
	}
	if p.DriverUpdatedAt != nil {
		o.DriverUpdatedAt = p.DriverUpdatedAt
	}
}

// CandidateSet is the ranking snapshot written by dispatch.
type CandidateSet struct {
	UIDs       []types.ID
	Candidates []Candidate
	At         time.Time
}

type Event struct {
	Type       string    `json:"type"`
	OrderID    types.ID  `json:"orderId"`
	FromStatus Status    `json:"fromStatus,omitempty"`
	ToStatus   Status    `json:"toStatus,omitempty"`
	ActorID    types.ID  `json:"actorId,omitempty"`
	Order      *Order    `json:"-"`
	At         time.Time `json:"at"`
}

const (
	EventAssigned          = "order.assigned"
	EventStatusChanged     = "order.status_changed"
	EventCancelled         = "order.cancelled"
	EventCandidatesUpdated = "order.candidates_updated"
	EventDriverMoved       = "order.driver_location"
)

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusSearching:      {StatusAssigned, StatusCancelled},
	StatusAssigned:       {StatusDriverArriving, StatusCancelled},
	StatusDriverArriving: {StatusOngoing, StatusCancelled},
	StatusOngoing:        {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
