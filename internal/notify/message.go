// Package notify fans order changes out to Kafka, FCM and websocket watchers.
package notify

import (
	"context"

	"github.com/google/uuid"

	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

// EventOffered is published when dispatch offers an order to its candidates.
const EventOffered = "order.offered"

// Message is the wire form shared by every channel.
type Message struct {
	ID string `json:"id"`
	order.Event
	Status        order.Status `json:"status,omitempty"`
	DriverUID     types.ID     `json:"driverUid,omitempty"`
	DriverCoords  *types.Point `json:"driverCoords,omitempty"`
	CandidateUIDs []types.ID   `json:"candidateUids,omitempty"`
}

func newMessage(ev order.Event) Message {
	m := Message{ID: uuid.NewString(), Event: ev}
	if o := ev.Order; o != nil {
		m.Status = o.Status
		if o.Driver != nil {
			m.DriverUID = o.Driver.UID
			m.DriverCoords = o.Driver.Coords
		}
	}
	return m
}

func offeredMessage(o *order.Order, candidates []order.Candidate) Message {
	ids := make([]types.ID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.UID
	}
	return Message{
		ID:            uuid.NewString(),
		Event:         order.Event{Type: EventOffered, OrderID: o.ID, At: o.UpdatedAt},
		Status:        o.Status,
		CandidateUIDs: ids,
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) OrderChanged(context.Context, order.Event) error { return nil }

func (Nop) CandidatesRanked(context.Context, *order.Order, []order.Candidate) error { return nil }
