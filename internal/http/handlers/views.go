package handlers

import (
	"time"

	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

type orderView struct {
	ID                  types.ID          `json:"id"`
	Status              order.Status      `json:"status"`
	Service             order.ServiceKind `json:"service"`
	VehicleType         types.VehicleType `json:"vehicleType"`
	Pickup              *order.Place      `json:"pickup,omitempty"`
	Merchant            *order.Place      `json:"merchant,omitempty"`
	Customer            order.Party       `json:"customer"`
	Driver              *order.Party      `json:"driver,omitempty"`
	CandidateUIDs       []types.ID        `json:"candidateUids"`
	Candidates          []order.Candidate `json:"candidates"`
	CandidatesUpdatedAt *time.Time        `json:"candidatesUpdatedAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	AssignedAt          *time.Time        `json:"assignedAt,omitempty"`
	StartedAt           *time.Time        `json:"startedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	CancelledAt         *time.Time        `json:"cancelledAt,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	DriverUpdatedAt     *time.Time        `json:"driverUpdatedAt,omitempty"`
}

func toOrderView(o *order.Order) orderView {
	v := orderView{
		ID:                  o.ID,
		Status:              o.Status,
		Service:             o.Service,
		VehicleType:         o.VehicleType,
		Pickup:              o.Pickup,
		Merchant:            o.Merchant,
		Customer:            o.Customer,
		Driver:              o.Driver,
		CandidateUIDs:       o.CandidateUIDs,
		Candidates:          o.Candidates,
		CandidatesUpdatedAt: o.CandidatesUpdatedAt,
		CreatedAt:           o.CreatedAt,
		AssignedAt:          o.AssignedAt,
		StartedAt:           o.StartedAt,
		CompletedAt:         o.CompletedAt,
		CancelledAt:         o.CancelledAt,
		UpdatedAt:           o.UpdatedAt,
		DriverUpdatedAt:     o.DriverUpdatedAt,
	}
	if v.CandidateUIDs == nil {
		v.CandidateUIDs = []types.ID{}
	}
	if v.Candidates == nil {
		v.Candidates = []order.Candidate{}
	}
	return v
}

type presenceView struct {
	DriverID    types.ID          `json:"uid"`
	Name        string            `json:"name,omitempty"`
	Online      bool              `json:"online"`
	Coords      *types.Point      `json:"coords"`
	VehicleType types.VehicleType `json:"vehicleType"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

func toPresenceView(p location.Presence) presenceView {
	return presenceView{
		DriverID:    p.DriverID,
		Name:        p.Name,
		Online:      p.Online,
		Coords:      p.Coords,
		VehicleType: p.VehicleType,
		UpdatedAt:   p.UpdatedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}
