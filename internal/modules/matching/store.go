// README: Collaborators the dispatch service reads from and writes to.
package matching

import (
	"context"

	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

// OrderSource is satisfied by *order.Service.
type OrderSource interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	RecordCandidates(ctx context.Context, id types.ID, set order.CandidateSet) error
}

// PresenceSource is satisfied by *location.Service.
type PresenceSource interface {
	Recent(ctx context.Context, limit int) ([]location.Presence, error)
}

// CandidateNotifier offers a freshly ranked order to its candidates.
type CandidateNotifier interface {
	CandidatesRanked(ctx context.Context, o *order.Order, candidates []order.Candidate) error
}
