// README: Order service implements lifecycle transitions, the atomic accept and driver-facing reads.
package order

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

// MaxOpenJobs caps the driver job list.
const MaxOpenJobs = 50

// Notifier receives every successful order change. Errors are logged by the
// service and never surface to the caller.
type Notifier interface {
	OrderChanged(ctx context.Context, ev Event) error
}

type Service struct {
	store    Store
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, log logrus.FieldLogger) *Service {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{store: store, notifier: notifier, log: log, now: time.Now}
}

// WithClock replaces the time source used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateCommand struct {
	CustomerID    types.ID
	CustomerName  string
	CustomerEmail string
	Service       ServiceKind
	VehicleType   types.VehicleType
	Pickup        *Place
	Merchant      *Place
}

type ViewCommand struct {
	OrderID    types.ID
	CallerID   types.ID
	AsDriver   bool
	Privileged bool
}

type AcceptCommand struct {
	OrderID     types.ID
	DriverID    types.ID
	VehicleType types.VehicleType
	Name        string
	Email       string
}

type ProgressCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type CancelCommand struct {
	OrderID    types.ID
	ActorID    types.ID
	Privileged bool
	Reason     string
}

type DriverLocationCommand struct {
	OrderID  types.ID
	DriverID types.ID
	Coords   types.Point
}

type ListOpenQuery struct {
	VehicleType types.VehicleType
	Limit       int
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" {
		return nil, ErrUnauthorized
	}
	if !cmd.Service.Valid() {
		return nil, ErrBadRequest
	}
	vt := cmd.VehicleType
	if vt == "" {
		vt = types.VehicleAny
	}
	if vt != types.VehicleAny && !vt.Concrete() {
		return nil, ErrBadRequest
	}
	for _, p := range []*Place{cmd.Pickup, cmd.Merchant} {
		if p != nil && p.Coords != nil && !p.Coords.Valid() {
			return nil, ErrBadRequest
		}
	}

	now := s.now()
	o := &Order{
		ID:          types.ID(uuid.NewString()),
		Status:      StatusSearching,
		Service:     cmd.Service,
		VehicleType: vt,
		Pickup:      clonePlace(cmd.Pickup),
		Merchant:    clonePlace(cmd.Merchant),
		Customer: Party{
			UID:   cmd.CustomerID,
			Name:  cmd.CustomerName,
			Email: cmd.CustomerEmail,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "service": o.Service, "vehicle_type": o.VehicleType}).Info("order created")
	return o, nil
}

// Get loads an order without any caller check. Callers that act on behalf of
// a user must authorize the result themselves or use View.
func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

// View returns the order if the caller may see it: its customer, its driver,
// a privileged caller, or any driver while it is still searching. Anyone else
// gets ErrNotFound.
func (s *Service) View(ctx context.Context, cmd ViewCommand) (*Order, error) {
	if cmd.CallerID == "" {
		return nil, ErrUnauthorized
	}
	o, err := s.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.Privileged,
		o.Customer.UID == cmd.CallerID,
		o.AssignedTo(cmd.CallerID),
		cmd.AsDriver && o.Status == StatusSearching:
		return o, nil
	}
	return nil, ErrNotFound
}

// Accept binds the driver to a searching order. The check and the write run
// as one store mutation, so of many concurrent callers exactly one succeeds
// and the rest get ErrOrderNotAvailable.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if cmd.OrderID == "" {
		return nil, ErrBadRequest
	}
	if cmd.DriverID == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	o, err := s.store.Mutate(ctx, cmd.OrderID, func(cur *Order) (Patch, error) {
		if cur.Status != StatusSearching || (cur.Driver != nil && cur.Driver.UID != "") {
			return Patch{}, ErrOrderNotAvailable
		}
		if cur.VehicleType.Concrete() && cur.VehicleType != cmd.VehicleType {
			return Patch{}, ErrVehicleMismatch
		}
		to := StatusAssigned
		return Patch{
			Status:     &to,
			Driver:     &Party{UID: cmd.DriverID, Name: cmd.Name, Email: cmd.Email},
			AssignedAt: &now,
			UpdatedAt:  &now,
		}, nil
	})
	observability.AcceptTotal.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		s.log.WithFields(logrus.Fields{"order_id": cmd.OrderID, "driver_id": cmd.DriverID, "kind": KindOf(err)}).Debug("accept rejected")
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "driver_id": cmd.DriverID}).Info("order accepted")
	s.publish(ctx, Event{
		Type:       EventAssigned,
		OrderID:    o.ID,
		FromStatus: StatusSearching,
		ToStatus:   StatusAssigned,
		ActorID:    cmd.DriverID,
		Order:      o,
		At:         now,
	})
	return o, nil
}

// Depart moves assigned to driver_arriving.
func (s *Service) Depart(ctx context.Context, cmd ProgressCommand) (*Order, error) {
	return s.advance(ctx, cmd, StatusAssigned, StatusDriverArriving)
}

// Start moves driver_arriving to ongoing.
func (s *Service) Start(ctx context.Context, cmd ProgressCommand) (*Order, error) {
	return s.advance(ctx, cmd, StatusDriverArriving, StatusOngoing)
}

// Finish moves ongoing to completed.
func (s *Service) Finish(ctx context.Context, cmd ProgressCommand) (*Order, error) {
	return s.advance(ctx, cmd, StatusOngoing, StatusCompleted)
}

func (s *Service) advance(ctx context.Context, cmd ProgressCommand, from, to Status) (*Order, error) {
	if cmd.OrderID == "" {
		return nil, ErrBadRequest
	}
	if cmd.DriverID == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	o, err := s.store.Mutate(ctx, cmd.OrderID, func(cur *Order) (Patch, error) {
		if !cur.AssignedTo(cmd.DriverID) {
			return Patch{}, ErrForbidden
		}
		if cur.Status != from || !CanTransition(from, to) {
			return Patch{}, ErrInvalidState
		}
		p := Patch{Status: &to, UpdatedAt: &now}
		switch to {
		case StatusOngoing:
			p.StartedAt = &now
		case StatusCompleted:
			p.CompletedAt = &now
		}
		return p, nil
	})
	observability.OrderTransitionsTotal.WithLabelValues(string(to), outcomeOf(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "from": from, "to": to}).Info("order status changed")
	s.publish(ctx, Event{
		Type:       EventStatusChanged,
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    cmd.DriverID,
		Order:      o,
		At:         now,
	})
	return o, nil
}

// Cancel ends a non-terminal order. The customer, the assigned driver or a
// privileged caller may cancel.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if cmd.OrderID == "" {
		return nil, ErrBadRequest
	}
	if cmd.ActorID == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	var from Status
	o, err := s.store.Mutate(ctx, cmd.OrderID, func(cur *Order) (Patch, error) {
		if !cmd.Privileged && cur.Customer.UID != cmd.ActorID && !cur.AssignedTo(cmd.ActorID) {
			return Patch{}, ErrForbidden
		}
		if !CanTransition(cur.Status, StatusCancelled) {
			return Patch{}, ErrInvalidState
		}
		from = cur.Status
		to := StatusCancelled
		return Patch{Status: &to, CancelledAt: &now, UpdatedAt: &now}, nil
	})
	observability.OrderTransitionsTotal.WithLabelValues(string(StatusCancelled), outcomeOf(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "from": from, "actor_id": cmd.ActorID, "reason": cmd.Reason}).Info("order cancelled")
	s.publish(ctx, Event{
		Type:       EventCancelled,
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   StatusCancelled,
		ActorID:    cmd.ActorID,
		Order:      o,
		At:         now,
	})
	return o, nil
}

// UpdateDriverLocation mirrors the assigned driver's position onto the order
// while the trip is active.
func (s *Service) UpdateDriverLocation(ctx context.Context, cmd DriverLocationCommand) (*Order, error) {
	if cmd.OrderID == "" || !cmd.Coords.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.DriverID == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	o, err := s.store.Mutate(ctx, cmd.OrderID, func(cur *Order) (Patch, error) {
		if !cur.AssignedTo(cmd.DriverID) {
			return Patch{}, ErrForbidden
		}
		switch cur.Status {
		case StatusAssigned, StatusDriverArriving, StatusOngoing:
		default:
			return Patch{}, ErrInvalidState
		}
		d := *cur.Driver
		pt := cmd.Coords
		d.Coords = &pt
		return Patch{Driver: &d, DriverUpdatedAt: &now, UpdatedAt: &now}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{
		Type:    EventDriverMoved,
		OrderID: o.ID,
		ActorID: cmd.DriverID,
		Order:   o,
		At:      now,
	})
	return o, nil
}

// ListOpen returns searching ride and delivery orders a driver of the given
// vehicle type could accept, newest first.
func (s *Service) ListOpen(ctx context.Context, q ListOpenQuery) ([]*Order, error) {
	if !q.VehicleType.Concrete() {
		return nil, ErrBadRequest
	}
	limit := q.Limit
	if limit <= 0 || limit > MaxOpenJobs {
		limit = MaxOpenJobs
	}
	return s.store.ListSearching(ctx, q.VehicleType, []ServiceKind{ServiceRide, ServiceDelivery}, limit)
}

// RecordCandidates stores a dispatch ranking snapshot. It touches only the
// candidate fields, so it never races with Accept over status or driver.
func (s *Service) RecordCandidates(ctx context.Context, id types.ID, set CandidateSet) error {
	if id == "" {
		return ErrBadRequest
	}
	if set.At.IsZero() {
		set.At = s.now()
	}
	if err := s.store.SetCandidates(ctx, id, set); err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventCandidatesUpdated, OrderID: id, At: set.At})
	return nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderChanged(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"order_id": ev.OrderID, "event": ev.Type}).Warn("notify order change failed")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case KindOf(err) == KindInfrastructure:
		return observability.OutcomeError
	default:
		return observability.OutcomeRejected
	}
}
