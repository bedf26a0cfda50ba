// README: Dispatch service: load order, authorize, rank nearby drivers, persist the snapshot.
package matching

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"ridedispatch/internal/config"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

type Service struct {
	orders   OrderSource
	presence PresenceSource
	notifier CandidateNotifier
	cfg      config.MatchingConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(orders OrderSource, presence PresenceSource, notifier CandidateNotifier, cfg config.MatchingConfig, log logrus.FieldLogger) *Service {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = DefaultRadiusKm
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.PresenceFetchLimit <= 0 {
		cfg.PresenceFetchLimit = DefaultPresenceFetchLimit
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{orders: orders, presence: presence, notifier: notifier, cfg: cfg, log: log, now: time.Now}
}

// WithClock replaces the time source used for eligibility and timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Dispatch ranks drivers for an order and overwrites its candidate snapshot.
// It never changes the order's status or driver, so repeated calls are safe.
func (s *Service) Dispatch(ctx context.Context, cmd DispatchCommand) (DispatchResult, error) {
	start := time.Now()
	res, err := s.dispatch(ctx, cmd)
	observability.DispatchLatency.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		observability.DispatchTotal.WithLabelValues(observability.OutcomeOK).Inc()
		observability.DispatchCandidates.Observe(float64(len(res.Candidates)))
	case order.KindOf(err) == order.KindInfrastructure:
		observability.DispatchTotal.WithLabelValues(observability.OutcomeError).Inc()
	default:
		observability.DispatchTotal.WithLabelValues(observability.OutcomeRejected).Inc()
	}
	return res, err
}

func (s *Service) dispatch(ctx context.Context, cmd DispatchCommand) (DispatchResult, error) {
	if cmd.CallerID == "" {
		return DispatchResult{}, order.ErrUnauthorized
	}
	if cmd.OrderID == "" {
		return DispatchResult{}, order.ErrBadRequest
	}
	maxKm := cmd.MaxKm
	if maxKm <= 0 {
		maxKm = s.cfg.DefaultRadiusKm
	}

	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return DispatchResult{}, err
	}
	if !cmd.Trusted && o.Customer.UID != cmd.CallerID {
		return DispatchResult{}, order.ErrForbidden
	}

	required := o.VehicleType
	if !required.Concrete() {
		required = types.VehicleAny
	}
	log := s.log.WithFields(logrus.Fields{"order_id": o.ID, "vehicle_required": required, "max_km": maxKm})
	now := s.now()

	pickup := o.PickupPoint()
	if pickup == nil {
		set := order.CandidateSet{UIDs: []types.ID{}, Candidates: []order.Candidate{}, At: now}
		if err := s.orders.RecordCandidates(ctx, o.ID, set); err != nil {
			return DispatchResult{}, err
		}
		log.Info("dispatch skipped: order has no pickup point")
		return DispatchResult{
			Candidates: []order.Candidate{},
			MaxKm:      maxKm,
			Debug:      Debug{VehicleRequired: required, Reason: ReasonNoPickup},
		}, nil
	}

	presences, err := s.presence.Recent(ctx, s.cfg.PresenceFetchLimit)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("fetch presences: %w: %w", order.ErrUnavailable, err)
	}

	ranking := Rank(pickup, required, presences, maxKm*1000, s.cfg.MaxCandidates, now)

	uids := make([]types.ID, len(ranking.Candidates))
	for i, c := range ranking.Candidates {
		uids[i] = c.UID
	}
	set := order.CandidateSet{UIDs: uids, Candidates: ranking.Candidates, At: now}
	if err := s.orders.RecordCandidates(ctx, o.ID, set); err != nil {
		return DispatchResult{}, err
	}

	log.WithFields(logrus.Fields{
		"fetched":    len(presences),
		"eligible":   ranking.Eligible,
		"within":     ranking.Within,
		"candidates": len(ranking.Candidates),
	}).Info("dispatch ranked")

	if s.notifier != nil && len(ranking.Candidates) > 0 {
		if err := s.notifier.CandidatesRanked(ctx, o, ranking.Candidates); err != nil {
			log.WithError(err).Warn("notify candidates failed")
		}
	}

	return DispatchResult{
		Candidates: ranking.Candidates,
		MaxKm:      maxKm,
		Debug: Debug{
			TotalFetched:    len(presences),
			TotalEligible:   ranking.Eligible,
			WithinKm:        ranking.Within,
			Pickup:          pickup,
			VehicleRequired: required,
		},
	}, nil
}
