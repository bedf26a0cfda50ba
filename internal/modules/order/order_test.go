// README: Order service tests (flow + invalid requests) on the in-memory store.
package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/types"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusSearching, StatusAssigned, true},
		{StatusAssigned, StatusDriverArriving, true},
		{StatusDriverArriving, StatusOngoing, true},
		{StatusOngoing, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusSearching, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusDriverArriving, StatusCancelled, true},
		{StatusOngoing, StatusCancelled, true},
		// invalid: terminal states have no outgoing transitions
		{StatusCompleted, StatusSearching, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusSearching, false},
		{StatusCancelled, StatusAssigned, false},
		// invalid: skipping or going back
		{StatusSearching, StatusOngoing, false},
		{StatusAssigned, StatusCompleted, false},
		{StatusOngoing, StatusAssigned, false},
		{StatusDriverArriving, StatusSearching, false},
		{StatusSearching, StatusSearching, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// recordingNotifier captures events; failWith makes every call fail.
type recordingNotifier struct {
	mu       sync.Mutex
	events   []Event
	failWith error
}

func (n *recordingNotifier) OrderChanged(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.failWith
}

func (n *recordingNotifier) eventTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	return NewService(NewMemoryStore(), n, nil), n
}

func mustCreateOrder(t *testing.T, svc *Service, customer types.ID, vt types.VehicleType) types.ID {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		CustomerID:  customer,
		Service:     ServiceRide,
		VehicleType: vt,
		Pickup:      &Place{Address: "Taipei 101", Coords: &types.Point{Lat: 25.033, Lng: 121.565}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o.ID
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) *Order {
	t.Helper()
	o, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("status = %s, want %s", o.Status, want)
	}
	return o
}

func TestOrderFlowHappyPath(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	orderID := mustCreateOrder(t, svc, "c_happy", types.VehicleCar2)
	assertStatus(t, svc, orderID, StatusSearching)

	o, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d1", VehicleType: types.VehicleCar2, Name: "Dan"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Driver == nil || o.Driver.UID != "d1" || o.Driver.Name != "Dan" || o.AssignedAt == nil {
		t.Fatalf("unexpected driver after accept: %+v", o.Driver)
	}
	assertStatus(t, svc, orderID, StatusAssigned)

	cmd := ProgressCommand{OrderID: orderID, DriverID: "d1"}
	if _, err := svc.Depart(ctx, cmd); err != nil {
		t.Fatalf("depart: %v", err)
	}
	assertStatus(t, svc, orderID, StatusDriverArriving)

	if _, err := svc.Start(ctx, cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	o = assertStatus(t, svc, orderID, StatusOngoing)
	if o.StartedAt == nil {
		t.Fatal("expected startedAt to be stamped")
	}

	if _, err := svc.Finish(ctx, cmd); err != nil {
		t.Fatalf("finish: %v", err)
	}
	o = assertStatus(t, svc, orderID, StatusCompleted)
	if o.CompletedAt == nil {
		t.Fatal("expected completedAt to be stamped")
	}

	want := []string{EventAssigned, EventStatusChanged, EventStatusChanged, EventStatusChanged}
	got := notifier.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestOrderInvalidTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	orderID := mustCreateOrder(t, svc, "c_invalid", types.VehicleAny)
	cmd := ProgressCommand{OrderID: orderID, DriverID: "d1"}

	// Nobody is assigned yet, so every progress call is someone else's order.
	if _, err := svc.Depart(ctx, cmd); !errors.Is(err, ErrForbidden) {
		t.Fatalf("depart before accept: expected ErrForbidden, got %v", err)
	}

	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Start(ctx, cmd); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("start before depart: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Finish(ctx, cmd); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finish before start: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Depart(ctx, ProgressCommand{OrderID: orderID, DriverID: "d2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("depart by other driver: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Depart(ctx, cmd); err != nil {
		t.Fatalf("depart: %v", err)
	}
	if _, err := svc.Depart(ctx, cmd); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("depart twice: expected ErrInvalidState, got %v", err)
	}
	assertStatus(t, svc, orderID, StatusDriverArriving)
}

func TestOrderTerminalStatesAreFinal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	orderID := mustCreateOrder(t, svc, "c_terminal", types.VehicleAny)
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{OrderID: orderID, ActorID: "c_terminal"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cmd := ProgressCommand{OrderID: orderID, DriverID: "d1"}
	for name, fn := range map[string]func(context.Context, ProgressCommand) (*Order, error){
		"depart": svc.Depart,
		"start":  svc.Start,
		"finish": svc.Finish,
	} {
		if _, err := fn(ctx, cmd); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s after cancel: expected ErrInvalidState, got %v", name, err)
		}
	}
	if _, err := svc.Cancel(ctx, CancelCommand{OrderID: orderID, ActorID: "c_terminal"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel twice: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d2", VehicleType: types.VehicleBike}); !errors.Is(err, ErrOrderNotAvailable) {
		t.Fatalf("accept after cancel: expected ErrOrderNotAvailable, got %v", err)
	}
}

func TestAcceptRejections(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	orderID := mustCreateOrder(t, svc, "c_gate", types.VehicleCar2)

	tests := []struct {
		name string
		cmd  AcceptCommand
		want error
	}{
		{"missing order", AcceptCommand{DriverID: "d1", VehicleType: types.VehicleCar2}, ErrBadRequest},
		{"missing driver", AcceptCommand{OrderID: orderID, VehicleType: types.VehicleCar2}, ErrUnauthorized},
		{"unknown order", AcceptCommand{OrderID: "nope", DriverID: "d1", VehicleType: types.VehicleCar2}, ErrNotFound},
		{"bike on car order", AcceptCommand{OrderID: orderID, DriverID: "d1", VehicleType: types.VehicleBike}, ErrVehicleMismatch},
		{"no vehicle on car order", AcceptCommand{OrderID: orderID, DriverID: "d1"}, ErrVehicleMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Accept(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	o := assertStatus(t, svc, orderID, StatusSearching)
	if o.Driver != nil {
		t.Fatalf("rejected accepts must not write a driver, got %+v", o.Driver)
	}
	if len(notifier.eventTypes()) != 0 {
		t.Fatalf("rejected accepts must not notify, got %v", notifier.eventTypes())
	}

	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d1", VehicleType: types.VehicleCar2}); err != nil {
		t.Fatalf("matching vehicle: %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: "d2", VehicleType: types.VehicleCar2}); !errors.Is(err, ErrOrderNotAvailable) {
		t.Fatalf("second accept: expected ErrOrderNotAvailable, got %v", err)
	}
}

func TestAcceptRejectsOrderWithDriverAlreadySet(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	now := time.Now()
	if err := store.Create(ctx, &Order{
		ID:          "o_stale",
		Status:      StatusSearching,
		Service:     ServiceDelivery,
		VehicleType: types.VehicleAny,
		Customer:    Party{UID: "c1"},
		Driver:      &Party{UID: "d_old"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: "o_stale", DriverID: "d_new", VehicleType: types.VehicleBike}); !errors.Is(err, ErrOrderNotAvailable) {
		t.Fatalf("expected ErrOrderNotAvailable, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("customer_cancel_while_searching", func(t *testing.T) {
		id := mustCreateOrder(t, svc, "c_cancel", types.VehicleAny)
		o, err := svc.Cancel(ctx, CancelCommand{OrderID: id, ActorID: "c_cancel", Reason: "changed_mind"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if o.Status != StatusCancelled || o.CancelledAt == nil {
			t.Fatalf("unexpected order after cancel: %s %v", o.Status, o.CancelledAt)
		}
	})

	t.Run("stranger_cannot_cancel", func(t *testing.T) {
		id := mustCreateOrder(t, svc, "c_owner", types.VehicleAny)
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: id, ActorID: "someone"}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		assertStatus(t, svc, id, StatusSearching)
	})

	t.Run("driver_cancel_while_arriving", func(t *testing.T) {
		id := mustCreateOrder(t, svc, "c_drv", types.VehicleAny)
		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: id, DriverID: "d_cancel", VehicleType: types.VehicleCar3}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := svc.Depart(ctx, ProgressCommand{OrderID: id, DriverID: "d_cancel"}); err != nil {
			t.Fatalf("depart: %v", err)
		}
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: id, ActorID: "d_cancel"}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		assertStatus(t, svc, id, StatusCancelled)
	})

	t.Run("admin_cancel", func(t *testing.T) {
		id := mustCreateOrder(t, svc, "c_admin", types.VehicleAny)
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: id, ActorID: "ops", Privileged: true}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	})
}

func TestViewVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := mustCreateOrder(t, svc, "c_view", types.VehicleAny)

	allowed := []ViewCommand{
		{OrderID: id, CallerID: "c_view"},
		{OrderID: id, CallerID: "ops", Privileged: true},
		{OrderID: id, CallerID: "d_browse", AsDriver: true},
	}
	for _, cmd := range allowed {
		if _, err := svc.View(ctx, cmd); err != nil {
			t.Fatalf("view %+v: %v", cmd, err)
		}
	}
	if _, err := svc.View(ctx, ViewCommand{OrderID: id, CallerID: "c_other"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stranger view: expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: id, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.View(ctx, ViewCommand{OrderID: id, CallerID: "d_browse", AsDriver: true}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other driver after assignment: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.View(ctx, ViewCommand{OrderID: id, CallerID: "d1", AsDriver: true}); err != nil {
		t.Fatalf("assigned driver view: %v", err)
	}
}

func TestUpdateDriverLocation(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()
	id := mustCreateOrder(t, svc, "c_loc", types.VehicleAny)
	pt := types.Point{Lat: 25.04, Lng: 121.56}

	if _, err := svc.UpdateDriverLocation(ctx, DriverLocationCommand{OrderID: id, DriverID: "d1", Coords: pt}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("before accept: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: id, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.UpdateDriverLocation(ctx, DriverLocationCommand{OrderID: id, DriverID: "d1", Coords: types.Point{Lat: 91}}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("invalid coords: expected ErrBadRequest, got %v", err)
	}
	o, err := svc.UpdateDriverLocation(ctx, DriverLocationCommand{OrderID: id, DriverID: "d1", Coords: pt})
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if o.Driver.Coords == nil || *o.Driver.Coords != pt || o.DriverUpdatedAt == nil {
		t.Fatalf("driver coords not mirrored: %+v", o.Driver)
	}
	if o.Status != StatusAssigned || o.Driver.UID != "d1" {
		t.Fatalf("mirror must not touch status or driver uid: %s %s", o.Status, o.Driver.UID)
	}

	cmd := ProgressCommand{OrderID: id, DriverID: "d1"}
	for _, step := range []func(context.Context, ProgressCommand) (*Order, error){svc.Depart, svc.Start, svc.Finish} {
		if _, err := step(ctx, cmd); err != nil {
			t.Fatalf("progress: %v", err)
		}
	}
	if _, err := svc.UpdateDriverLocation(ctx, DriverLocationCommand{OrderID: id, DriverID: "d1", Coords: pt}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("after completion: expected ErrInvalidState, got %v", err)
	}

	moved := 0
	for _, typ := range notifier.eventTypes() {
		if typ == EventDriverMoved {
			moved++
		}
	}
	if moved != 1 {
		t.Fatalf("expected one driver moved event, got %d", moved)
	}
}

func TestListOpen(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	seed := []Order{
		{ID: "ride_bike", Service: ServiceRide, VehicleType: types.VehicleBike, Status: StatusSearching, CreatedAt: base.Add(1 * time.Minute)},
		{ID: "delivery_any", Service: ServiceDelivery, VehicleType: types.VehicleAny, Status: StatusSearching, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "ride_car", Service: ServiceRide, VehicleType: types.VehicleCar2, Status: StatusSearching, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "merchant_bike", Service: ServiceMerchant, VehicleType: types.VehicleBike, Status: StatusSearching, CreatedAt: base.Add(4 * time.Minute)},
		{ID: "ride_taken", Service: ServiceRide, VehicleType: types.VehicleBike, Status: StatusAssigned, CreatedAt: base.Add(5 * time.Minute)},
	}
	for i := range seed {
		o := seed[i]
		o.Customer = Party{UID: "c1"}
		o.UpdatedAt = o.CreatedAt
		if err := store.Create(ctx, &o); err != nil {
			t.Fatalf("seed %s: %v", o.ID, err)
		}
	}

	got, err := svc.ListOpen(ctx, ListOpenQuery{VehicleType: types.VehicleBike})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	var ids []types.ID
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	if len(ids) != 2 || ids[0] != "delivery_any" || ids[1] != "ride_bike" {
		t.Fatalf("unexpected jobs: %v", ids)
	}

	if _, err := svc.ListOpen(ctx, ListOpenQuery{VehicleType: types.VehicleAny}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("any vehicle: expected ErrBadRequest, got %v", err)
	}
}

func TestRecordCandidatesLeavesStatusAlone(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()
	id := mustCreateOrder(t, svc, "c_cands", types.VehicleAny)

	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: id, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	set := CandidateSet{
		UIDs:       []types.ID{"d2"},
		Candidates: []Candidate{{UID: "d2", VehicleType: types.VehicleBike, DistanceMeters: 120}},
		At:         at,
	}
	if err := svc.RecordCandidates(ctx, id, set); err != nil {
		t.Fatalf("record: %v", err)
	}
	o := assertStatus(t, svc, id, StatusAssigned)
	if o.Driver == nil || o.Driver.UID != "d1" {
		t.Fatalf("candidate write clobbered driver: %+v", o.Driver)
	}
	if len(o.CandidateUIDs) != 1 || o.CandidatesUpdatedAt == nil || !o.CandidatesUpdatedAt.Equal(at) {
		t.Fatalf("candidates not written: %+v", o.CandidateUIDs)
	}
	if err := svc.RecordCandidates(ctx, "missing", set); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}
	last := notifier.eventTypes()
	if last[len(last)-1] != EventCandidatesUpdated {
		t.Fatalf("expected candidates event, got %v", last)
	}
}

func TestNotifierFailureDoesNotFailAccept(t *testing.T) {
	n := &recordingNotifier{failWith: errors.New("broker down")}
	svc := NewService(NewMemoryStore(), n, nil)
	id := mustCreateOrder(t, svc, "c_notify", types.VehicleAny)
	if _, err := svc.Accept(context.Background(), AcceptCommand{OrderID: id, DriverID: "d1", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept must succeed despite notifier error: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tests := []struct {
		name string
		cmd  CreateCommand
		want error
	}{
		{"no customer", CreateCommand{Service: ServiceRide}, ErrUnauthorized},
		{"bad service", CreateCommand{CustomerID: "c1", Service: "taxi"}, ErrBadRequest},
		{"bad vehicle", CreateCommand{CustomerID: "c1", Service: ServiceRide, VehicleType: "truck"}, ErrBadRequest},
		{"bad coords", CreateCommand{CustomerID: "c1", Service: ServiceRide, Pickup: &Place{Coords: &types.Point{Lat: 100}}}, ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	o, err := svc.Create(ctx, CreateCommand{
		CustomerID: "c1",
		Service:    ServiceMerchant,
		Merchant:   &Place{Address: "Shop", Coords: &types.Point{Lat: 1, Lng: 2}},
	})
	if err != nil {
		t.Fatalf("create merchant order: %v", err)
	}
	if o.VehicleType != types.VehicleAny || o.Status != StatusSearching {
		t.Fatalf("unexpected defaults: %s %s", o.VehicleType, o.Status)
	}
	if p := o.PickupPoint(); p == nil || p.Lat != 1 {
		t.Fatalf("merchant coords should be the pickup point, got %v", p)
	}
}
