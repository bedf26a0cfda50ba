// Package location provides driver presence storage and querying for matching.
package location

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

const presenceCollection = "driverLocations"

// FirestoreStore keeps presence in the driverLocations collection that driver
// apps also write to directly, so documents may predate this service.
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

// presenceDoc mirrors a driverLocations document. Older driver builds wrote
// "isOnline" instead of "online"; either flag counts.
type presenceDoc struct {
	UID         string       `firestore:"uid"`
	Name        string       `firestore:"name,omitempty"`
	Online      *bool        `firestore:"online,omitempty"`
	IsOnline    *bool        `firestore:"isOnline,omitempty"`
	Coords      *types.Point `firestore:"coords"`
	VehicleType string       `firestore:"vehicleType,omitempty"`
	DeviceToken string       `firestore:"deviceToken,omitempty"`
	UpdatedAt   time.Time    `firestore:"updatedAt"`
	ExpiresAt   *time.Time   `firestore:"expiresAt,omitempty"`
}

func (s *FirestoreStore) Upsert(ctx context.Context, p Presence) error {
	data := map[string]interface{}{
		"uid":       string(p.DriverID),
		"online":    p.Online,
		"coords":    nil,
		"updatedAt": p.UpdatedAt,
	}
	if p.Coords != nil {
		data["coords"] = map[string]interface{}{"lat": p.Coords.Lat, "lng": p.Coords.Lng}
	}
	if p.ExpiresAt != nil {
		data["expiresAt"] = *p.ExpiresAt
	}
	// Profile fields are merged only when known so an offline ping does not wipe them.
	if p.Name != "" {
		data["name"] = p.Name
	}
	if p.VehicleType != "" {
		data["vehicleType"] = string(p.VehicleType)
	}
	if p.DeviceToken != "" {
		data["deviceToken"] = p.DeviceToken
	}
	_, err := s.client.Collection(presenceCollection).Doc(string(p.DriverID)).Set(ctx, data, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert presence %s: %w", p.DriverID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Presence, error) {
	snap, err := s.client.Collection(presenceCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", id, err)
	}
	var doc presenceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode presence %s: %w", id, err)
	}
	p := doc.toPresence(snap.Ref.ID)
	return &p, nil
}

// Recent orders by updatedAt instead of filtering on the online flag because
// the flag name differs between document generations.
func (s *FirestoreStore) Recent(ctx context.Context, limit int) ([]Presence, error) {
	if limit <= 0 {
		return nil, nil
	}
	snaps, err := s.client.Collection(presenceCollection).
		OrderBy("updatedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("query recent presences: %w", err)
	}
	out := make([]Presence, 0, len(snaps))
	for _, snap := range snaps {
		var doc presenceDoc
		if err := snap.DataTo(&doc); err != nil {
			// Malformed documents are not matchable.
			observability.StoreDecodeFailuresTotal.WithLabelValues("firestore_presence").Inc()
			s.log.WithError(err).WithField("driver_id", snap.Ref.ID).Warn("skip undecodable presence")
			continue
		}
		out = append(out, doc.toPresence(snap.Ref.ID))
	}
	return out, nil
}

func (d presenceDoc) toPresence(docID string) Presence {
	online := (d.Online != nil && *d.Online) || (d.IsOnline != nil && *d.IsOnline)
	return Presence{
		DriverID:    types.ID(docID),
		Name:        d.Name,
		Online:      online,
		Coords:      d.Coords,
		VehicleType: vehicleOrDefault(d.VehicleType),
		DeviceToken: d.DeviceToken,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
