package order

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

const ordersCollection = "orders"

// FirestoreStore keeps orders in the shared "orders" collection read by the
// customer and driver apps. Mutate runs inside a Firestore transaction, which
// retries on contention and re-evaluates fn against the fresh document.
type FirestoreStore struct {
	client *firestore.Client
	log    logrus.FieldLogger
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, log: logrus.StandardLogger()}
}

func (s *FirestoreStore) WithLogger(log logrus.FieldLogger) *FirestoreStore {
	s.log = log
	return s
}

type orderDoc struct {
	Status              string      `firestore:"status"`
	Service             string      `firestore:"service"`
	VehicleType         string      `firestore:"vehicleType"`
	Pickup              *Place      `firestore:"pickup"`
	Merchant            *Place      `firestore:"merchant"`
	Customer            Party       `firestore:"customer"`
	Driver              *Party      `firestore:"driver"`
	CandidateUIDs       []string    `firestore:"candidateUids"`
	Candidates          []Candidate `firestore:"candidates"`
	CandidatesUpdatedAt *time.Time  `firestore:"candidatesUpdatedAt"`
	CreatedAt           time.Time   `firestore:"createdAt"`
	AssignedAt          *time.Time  `firestore:"assignedAt"`
	StartedAt           *time.Time  `firestore:"startedAt"`
	CompletedAt         *time.Time  `firestore:"completedAt"`
	CancelledAt         *time.Time  `firestore:"cancelledAt"`
	UpdatedAt           time.Time   `firestore:"updatedAt"`
	DriverUpdatedAt     *time.Time  `firestore:"driverUpdatedAt"`
}

func newOrderDoc(o *Order) orderDoc {
	d := orderDoc{
		Status:              string(o.Status),
		Service:             string(o.Service),
		VehicleType:         string(o.VehicleType),
		Pickup:              o.Pickup,
		Merchant:            o.Merchant,
		Customer:            o.Customer,
		Driver:              o.Driver,
		CandidateUIDs:       []string{},
		Candidates:          []Candidate{},
		CandidatesUpdatedAt: o.CandidatesUpdatedAt,
		CreatedAt:           o.CreatedAt,
		AssignedAt:          o.AssignedAt,
		StartedAt:           o.StartedAt,
		CompletedAt:         o.CompletedAt,
		CancelledAt:         o.CancelledAt,
		UpdatedAt:           o.UpdatedAt,
		DriverUpdatedAt:     o.DriverUpdatedAt,
	}
	for _, u := range o.CandidateUIDs {
		d.CandidateUIDs = append(d.CandidateUIDs, string(u))
	}
	d.Candidates = append(d.Candidates, o.Candidates...)
	return d
}

func (d orderDoc) toOrder(id string) *Order {
	o := &Order{
		ID:                  types.ID(id),
		Status:              Status(d.Status),
		Service:             ServiceKind(d.Service),
		VehicleType:         types.VehicleType(d.VehicleType),
		Pickup:              d.Pickup,
		Merchant:            d.Merchant,
		Customer:            d.Customer,
		Driver:              d.Driver,
		Candidates:          d.Candidates,
		CandidatesUpdatedAt: d.CandidatesUpdatedAt,
		CreatedAt:           d.CreatedAt,
		AssignedAt:          d.AssignedAt,
		StartedAt:           d.StartedAt,
		CompletedAt:         d.CompletedAt,
		CancelledAt:         d.CancelledAt,
		UpdatedAt:           d.UpdatedAt,
		DriverUpdatedAt:     d.DriverUpdatedAt,
	}
	if o.VehicleType == "" {
		o.VehicleType = types.VehicleAny
	}
	for _, u := range d.CandidateUIDs {
		o.CandidateUIDs = append(o.CandidateUIDs, types.ID(u))
	}
	return o
}

func (s *FirestoreStore) ref(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(ordersCollection).Doc(string(id))
}

func (s *FirestoreStore) Create(ctx context.Context, o *Order) error {
	_, err := s.ref(o.ID).Create(ctx, newOrderDoc(o))
	if status.Code(err) == codes.AlreadyExists {
		return ErrBadRequest
	}
	return unavailable("create order", err)
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	snap, err := s.ref(id).Get(ctx)
	return decodeSnapshot(snap, err)
}

func (s *FirestoreStore) Mutate(ctx context.Context, id types.ID, fn MutateFunc) (*Order, error) {
	ref := s.ref(id)
	var result *Order
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		o, err := decodeSnapshot(tx.Get(ref))
		if err != nil {
			return err
		}
		patch, err := fn(cloneOrder(o))
		if err != nil {
			return err
		}
		updates := patchUpdates(patch)
		if len(updates) > 0 {
			if err := tx.Update(ref, updates); err != nil {
				return err
			}
		}
		patch.Apply(o)
		result = o
		return nil
	})
	if err != nil {
		return nil, unavailable("mutate order", err)
	}
	return result, nil
}

func (s *FirestoreStore) SetCandidates(ctx context.Context, id types.ID, set CandidateSet) error {
	uids := make([]string, 0, len(set.UIDs))
	for _, u := range set.UIDs {
		uids = append(uids, string(u))
	}
	cands := append([]Candidate{}, set.Candidates...)
	_, err := s.ref(id).Update(ctx, []firestore.Update{
		{Path: "candidateUids", Value: uids},
		{Path: "candidates", Value: cands},
		{Path: "candidatesUpdatedAt", Value: set.At},
		{Path: "updatedAt", Value: set.At},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return unavailable("set candidates", err)
}

// ListSearching issues one query for the exact vehicle type and one for
// "any", since Firestore cannot OR two equality filters with an "in" filter
// on another field.
func (s *FirestoreStore) ListSearching(ctx context.Context, vt types.VehicleType, services []ServiceKind, limit int) ([]*Order, error) {
	kinds := make([]string, len(services))
	for i, k := range services {
		kinds[i] = string(k)
	}
	seen := map[string]bool{}
	var out []*Order
	for _, v := range []types.VehicleType{vt, types.VehicleAny} {
		q := s.client.Collection(ordersCollection).
			Where("status", "==", string(StatusSearching)).
			Where("service", "in", kinds).
			Where("vehicleType", "==", string(v)).
			OrderBy("createdAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		snaps, err := q.Documents(ctx).GetAll()
		if err != nil {
			return nil, unavailable("list searching", err)
		}
		for _, snap := range snaps {
			if seen[snap.Ref.ID] {
				continue
			}
			var d orderDoc
			if err := snap.DataTo(&d); err != nil {
				observability.StoreDecodeFailuresTotal.WithLabelValues("firestore_orders").Inc()
				s.log.WithError(err).WithField("order_id", snap.Ref.ID).Warn("skip undecodable order")
				continue
			}
			seen[snap.Ref.ID] = true
			out = append(out, d.toOrder(snap.Ref.ID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot, err error) (*Order, error) {
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get order", err)
	}
	var d orderDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, unavailable("decode order", err)
	}
	return d.toOrder(snap.Ref.ID), nil
}

func patchUpdates(p Patch) []firestore.Update {
	var ups []firestore.Update
	add := func(path string, v interface{}) {
		ups = append(ups, firestore.Update{Path: path, Value: v})
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Driver != nil {
		add("driver", *p.Driver)
	}
	if p.AssignedAt != nil {
		add("assignedAt", *p.AssignedAt)
	}
	if p.StartedAt != nil {
		add("startedAt", *p.StartedAt)
	}
	if p.CompletedAt != nil {
		add("completedAt", *p.CompletedAt)
	}
	if p.CancelledAt != nil {
		add("cancelledAt", *p.CancelledAt)
	}
	if p.UpdatedAt != nil {
		add("updatedAt", *p.UpdatedAt)
	}
	if p.DriverUpdatedAt != nil {
		add("driverUpdatedAt", *p.DriverUpdatedAt)
	}
	return ups
}
