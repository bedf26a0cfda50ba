// README: Ranker and dispatch tests on in-memory order and presence stores.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func pt(lat, lng float64) *types.Point { return &types.Point{Lat: lat, Lng: lng} }

func online(id types.ID, vt types.VehicleType, p *types.Point) location.Presence {
	exp := testNow.Add(5 * time.Minute)
	return location.Presence{DriverID: id, Online: true, Coords: p, VehicleType: vt, UpdatedAt: testNow, ExpiresAt: &exp}
}

func uids(cs []order.Candidate) []types.ID {
	out := make([]types.ID, len(cs))
	for i, c := range cs {
		out[i] = c.UID
	}
	return out
}

func equalIDs(a, b []types.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Unit tests: Rank (pure function, no external dependencies)
// ---------------------------------------------------------------------------

func TestRank_OfflineExcludedNearestFirst(t *testing.T) {
	pickup := pt(-1.2500, 124.4500)
	a := online("A", types.VehicleBike, pt(-1.2600, 124.4600))
	b := online("B", types.VehicleBike, pt(-1.3000, 124.5000))
	c := online("C", types.VehicleBike, pt(-1.2505, 124.4505))
	c.Online = false

	r := Rank(pickup, types.VehicleBike, []location.Presence{a, b, c}, 15000, 30, testNow)
	if got := uids(r.Candidates); !equalIDs(got, []types.ID{"A", "B"}) {
		t.Fatalf("expected [A B], got %v", got)
	}
	if r.Candidates[0].DistanceMeters >= r.Candidates[1].DistanceMeters {
		t.Fatalf("A should be nearer than B: %v", r.Candidates)
	}
	if r.Eligible != 2 || r.Within != 2 {
		t.Fatalf("eligible=%d within=%d", r.Eligible, r.Within)
	}
}

func TestRank_Filters(t *testing.T) {
	pickup := pt(0, 0)
	expired := online("expired", types.VehicleBike, pt(0, 0.001))
	past := testNow.Add(-time.Second)
	expired.ExpiresAt = &past
	noCoords := online("nocoords", types.VehicleBike, nil)
	car := online("car", types.VehicleCar2, pt(0, 0.002))
	bike := online("bike", types.VehicleBike, pt(0, 0.003))
	noExpiry := online("noexpiry", types.VehicleBike, pt(0, 0.004))
	noExpiry.ExpiresAt = nil

	presences := []location.Presence{expired, noCoords, car, bike, noExpiry}

	r := Rank(pickup, types.VehicleBike, presences, 15000, 30, testNow)
	if got := uids(r.Candidates); !equalIDs(got, []types.ID{"bike", "noexpiry"}) {
		t.Fatalf("bike filter: got %v", got)
	}

	r = Rank(pickup, types.VehicleAny, presences, 15000, 30, testNow)
	if got := uids(r.Candidates); !equalIDs(got, []types.ID{"car", "bike", "noexpiry"}) {
		t.Fatalf("any filter: got %v", got)
	}
}

func TestRank_RadiusFallback(t *testing.T) {
	pickup := pt(0, 0)
	// ~50 km east of the pickup.
	far := online("far", types.VehicleBike, pt(0, 0.45))

	r := Rank(pickup, types.VehicleBike, []location.Presence{far}, 15000, 30, testNow)
	if got := uids(r.Candidates); !equalIDs(got, []types.ID{"far"}) {
		t.Fatalf("expected fallback to far driver, got %v", got)
	}
	if r.Within != 0 || r.Eligible != 1 {
		t.Fatalf("within=%d eligible=%d", r.Within, r.Eligible)
	}
	if r.Candidates[0].DistanceMeters < 45000 {
		t.Fatalf("unexpected distance %f", r.Candidates[0].DistanceMeters)
	}

	near := online("near", types.VehicleBike, pt(0, 0.01))
	r = Rank(pickup, types.VehicleBike, []location.Presence{far, near}, 15000, 30, testNow)
	if got := uids(r.Candidates); !equalIDs(got, []types.ID{"near"}) {
		t.Fatalf("within-radius drivers must exclude the far one, got %v", got)
	}
}

func TestRank_DeterministicAndNearestFirst(t *testing.T) {
	pickup := pt(25.033, 121.565)
	var presences []location.Presence
	for i := 0; i < 40; i++ {
		id := types.ID(fmt.Sprintf("d%02d", i))
		// Pairs share a position so ties exercise the id tiebreak.
		offset := float64(i/2) * 0.001
		presences = append(presences, online(id, types.VehicleCar2, pt(25.033+offset, 121.565)))
	}
	// Reverse input order; output must not depend on it.
	reversed := make([]location.Presence, len(presences))
	for i := range presences {
		reversed[len(presences)-1-i] = presences[i]
	}

	first := Rank(pickup, types.VehicleCar2, presences, 15000, 30, testNow)
	second := Rank(pickup, types.VehicleCar2, reversed, 15000, 30, testNow)
	if !equalIDs(uids(first.Candidates), uids(second.Candidates)) {
		t.Fatalf("ranking depends on input order:\n%v\n%v", uids(first.Candidates), uids(second.Candidates))
	}
	if len(first.Candidates) != 30 {
		t.Fatalf("expected truncation to 30, got %d", len(first.Candidates))
	}
	for i := 1; i < len(first.Candidates); i++ {
		prev, cur := first.Candidates[i-1], first.Candidates[i]
		if prev.DistanceMeters > cur.DistanceMeters {
			t.Fatalf("not nearest-first at %d: %f > %f", i, prev.DistanceMeters, cur.DistanceMeters)
		}
		if prev.DistanceMeters == cur.DistanceMeters && prev.UID > cur.UID {
			t.Fatalf("tie not broken by id at %d: %s > %s", i, prev.UID, cur.UID)
		}
	}
}

func TestRank_EmptyCases(t *testing.T) {
	a := online("A", types.VehicleBike, pt(0, 0))
	if r := Rank(nil, types.VehicleAny, []location.Presence{a}, 15000, 30, testNow); len(r.Candidates) != 0 || r.Candidates == nil {
		t.Fatalf("nil pickup: expected empty non-nil slice, got %#v", r.Candidates)
	}
	if r := Rank(pt(0, 0), types.VehicleCar3, []location.Presence{a}, 15000, 30, testNow); len(r.Candidates) != 0 {
		t.Fatalf("no eligible: expected empty, got %v", uids(r.Candidates))
	}
	if r := Rank(pt(0, 0), types.VehicleAny, nil, 15000, 30, testNow); len(r.Candidates) != 0 {
		t.Fatalf("no presences: expected empty, got %v", uids(r.Candidates))
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests with in-memory order and presence services
// ---------------------------------------------------------------------------

type recordingCandidates struct {
	mu    sync.Mutex
	calls [][]types.ID
	err   error
}

func (r *recordingCandidates) CandidatesRanked(_ context.Context, _ *order.Order, cs []order.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, uids(cs))
	return r.err
}

type failingPresence struct{}

func (failingPresence) Recent(context.Context, int) ([]location.Presence, error) {
	return nil, errors.New("firestore deadline exceeded")
}

type fixture struct {
	orders   *order.Service
	presence *location.Service
	notifier *recordingCandidates
	svc      *Service
}

func newFixture(t *testing.T, presences ...location.Presence) *fixture {
	t.Helper()
	ctx := context.Background()
	pstore := location.NewMemoryStore()
	for _, p := range presences {
		if err := pstore.Upsert(ctx, p); err != nil {
			t.Fatalf("seed presence: %v", err)
		}
	}
	clock := func() time.Time { return testNow }
	f := &fixture{
		orders:   order.NewService(order.NewMemoryStore(), nil, nil).WithClock(clock),
		presence: location.NewService(pstore, 0).WithClock(clock),
		notifier: &recordingCandidates{},
	}
	cfg := config.MatchingConfig{DefaultRadiusKm: 15, MaxCandidates: 30, PresenceFetchLimit: 500}
	f.svc = NewService(f.orders, f.presence, f.notifier, cfg, nil).WithClock(clock)
	return f
}

func (f *fixture) createOrder(t *testing.T, customer types.ID, vt types.VehicleType, pickup *order.Place) types.ID {
	t.Helper()
	o, err := f.orders.Create(context.Background(), order.CreateCommand{
		CustomerID:  customer,
		Service:     order.ServiceRide,
		VehicleType: vt,
		Pickup:      pickup,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o.ID
}

func sulawesiPresences() []location.Presence {
	c := online("C", types.VehicleBike, pt(-1.2505, 124.4505))
	c.Online = false
	return []location.Presence{
		online("A", types.VehicleBike, pt(-1.2600, 124.4600)),
		online("B", types.VehicleBike, pt(-1.3000, 124.5000)),
		c,
	}
}

func TestDispatch_WritesCandidates(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Coords: pt(-1.2500, 124.4500)})

	res, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := uids(res.Candidates); !equalIDs(got, []types.ID{"A", "B"}) {
		t.Fatalf("candidates = %v", got)
	}
	if res.MaxKm != 15 {
		t.Fatalf("default radius not applied: %v", res.MaxKm)
	}
	if res.Debug.TotalFetched != 3 || res.Debug.TotalEligible != 2 || res.Debug.WithinKm != 2 {
		t.Fatalf("debug = %+v", res.Debug)
	}

	o, err := f.orders.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !equalIDs(o.CandidateUIDs, []types.ID{"A", "B"}) || o.CandidatesUpdatedAt == nil {
		t.Fatalf("candidate fields not persisted: %v", o.CandidateUIDs)
	}
	if o.Status != order.StatusSearching || o.Driver != nil {
		t.Fatalf("dispatch must not touch status/driver: %s %+v", o.Status, o.Driver)
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("expected candidates to be notified once, got %d", len(f.notifier.calls))
	}
}

func TestDispatch_Idempotent(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	id := f.createOrder(t, "cust1", types.VehicleAny, &order.Place{Coords: pt(-1.2500, 124.4500)})

	first, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1"})
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1"})
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if !equalIDs(uids(first.Candidates), uids(second.Candidates)) {
		t.Fatalf("dispatch not idempotent: %v vs %v", uids(first.Candidates), uids(second.Candidates))
	}
	o, _ := f.orders.Get(ctx, id)
	if o.Status != order.StatusSearching || o.Driver != nil {
		t.Fatalf("dispatch altered status/driver")
	}
}

func TestDispatch_NoPickup(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Address: "somewhere"})

	res, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1", MaxKm: 3})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(res.Candidates) != 0 || res.Debug.Reason != ReasonNoPickup || res.MaxKm != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	o, _ := f.orders.Get(ctx, id)
	if o.CandidateUIDs == nil || len(o.CandidateUIDs) != 0 || o.CandidatesUpdatedAt == nil {
		t.Fatalf("expected empty candidate list stamped, got %v %v", o.CandidateUIDs, o.CandidatesUpdatedAt)
	}
	if len(f.notifier.calls) != 0 {
		t.Fatalf("no candidates should be notified")
	}
}

func TestDispatch_MerchantFallbackPickup(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	o, err := f.orders.Create(ctx, order.CreateCommand{
		CustomerID: "cust1",
		Service:    order.ServiceMerchant,
		Merchant:   &order.Place{Address: "Warung", Coords: pt(-1.2500, 124.4500)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: o.ID, CallerID: "cust1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := uids(res.Candidates); !equalIDs(got, []types.ID{"A", "B"}) {
		t.Fatalf("merchant coords should drive ranking, got %v", got)
	}
}

func TestDispatch_Errors(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Coords: pt(-1.25, 124.45)})

	tests := []struct {
		name string
		cmd  DispatchCommand
		want error
	}{
		{"no caller", DispatchCommand{OrderID: id}, order.ErrUnauthorized},
		{"no order id", DispatchCommand{CallerID: "cust1"}, order.ErrBadRequest},
		{"unknown order", DispatchCommand{OrderID: "missing", CallerID: "cust1"}, order.ErrNotFound},
		{"not the customer", DispatchCommand{OrderID: id, CallerID: "cust2"}, order.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Dispatch(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "ops", Trusted: true}); err != nil {
		t.Fatalf("trusted caller: %v", err)
	}
}

func TestDispatch_PresenceFailureIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Coords: pt(0, 0)})
	svc := NewService(f.orders, failingPresence{}, nil, config.MatchingConfig{}, nil)

	_, err := svc.Dispatch(context.Background(), DispatchCommand{OrderID: id, CallerID: "cust1"})
	if order.KindOf(err) != order.KindInfrastructure || !errors.Is(err, order.ErrUnavailable) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestDispatch_NotifierFailureIgnored(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	f.notifier.err = errors.New("fcm down")
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Coords: pt(-1.25, 124.45)})
	if _, err := f.svc.Dispatch(context.Background(), DispatchCommand{OrderID: id, CallerID: "cust1"}); err != nil {
		t.Fatalf("dispatch must not fail on notifier error: %v", err)
	}
}

func TestDispatch_ThenAcceptThenRedispatch(t *testing.T) {
	f := newFixture(t, sulawesiPresences()...)
	ctx := context.Background()
	id := f.createOrder(t, "cust1", types.VehicleBike, &order.Place{Coords: pt(-1.25, 124.45)})

	if _, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := f.orders.Accept(ctx, order.AcceptCommand{OrderID: id, DriverID: "A", VehicleType: types.VehicleBike}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Dispatch(ctx, DispatchCommand{OrderID: id, CallerID: "cust1"}); err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	o, _ := f.orders.Get(ctx, id)
	if o.Status != order.StatusAssigned || o.Driver == nil || o.Driver.UID != "A" {
		t.Fatalf("redispatch clobbered the assignment: %s %+v", o.Status, o.Driver)
	}
}
