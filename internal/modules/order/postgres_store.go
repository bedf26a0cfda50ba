// README: Order store backed by PostgreSQL; Mutate locks the row for the read-modify-write.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectOrderSQL = `
    SELECT id, status, service, vehicle_type, pickup, merchant, customer, driver,
           candidate_uids, candidates, candidates_updated_at,
           created_at, assigned_at, started_at, completed_at, cancelled_at,
           updated_at, driver_updated_at
    FROM orders`

func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	pickup, err := jsonOrNil(o.Pickup)
	if err != nil {
		return err
	}
	merchant, err := jsonOrNil(o.Merchant)
	if err != nil {
		return err
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO orders (
            id, status, service, vehicle_type, pickup, merchant, customer,
            candidate_uids, candidates, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7,
            '{}', '[]', $8, $9
        )`,
		string(o.ID),
		string(o.Status),
		string(o.Service),
		string(o.VehicleType),
		pickup,
		merchant,
		string(customer),
		o.CreatedAt,
		o.UpdatedAt,
	)
	return unavailable("insert order", err)
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, selectOrderSQL+` WHERE id = $1`, string(id)))
	if err != nil {
		return nil, unavailable("get order", err)
	}
	return o, nil
}

func (s *PostgresStore) Mutate(ctx context.Context, id types.ID, fn MutateFunc) (*Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, selectOrderSQL+` WHERE id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return nil, unavailable("lock order", err)
	}
	patch, err := fn(cloneOrder(o))
	if err != nil {
		return nil, err
	}

	sets, args, err := patchColumns(patch)
	if err != nil {
		return nil, err
	}
	if len(sets) > 0 {
		args = append(args, string(id))
		q := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return nil, unavailable("update order", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit", err)
	}
	patch.Apply(o)
	return o, nil
}

func (s *PostgresStore) SetCandidates(ctx context.Context, id types.ID, set CandidateSet) error {
	cands := set.Candidates
	if cands == nil {
		cands = []Candidate{}
	}
	b, err := json.Marshal(cands)
	if err != nil {
		return err
	}
	uids := make([]string, len(set.UIDs))
	for i, u := range set.UIDs {
		uids[i] = string(u)
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE orders
        SET candidate_uids = $1,
            candidates = $2,
            candidates_updated_at = $3,
            updated_at = $3
        WHERE id = $4`,
		uids, string(b), set.At, string(id),
	)
	if err != nil {
		return unavailable("set candidates", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSearching(ctx context.Context, vt types.VehicleType, services []ServiceKind, limit int) ([]*Order, error) {
	kinds := make([]string, len(services))
	for i, k := range services {
		kinds[i] = string(k)
	}
	rows, err := s.db.Query(ctx, selectOrderSQL+`
        WHERE status = 'searching'
          AND service = ANY($1)
          AND (vehicle_type = $2 OR vehicle_type = 'any')
        ORDER BY created_at DESC
        LIMIT $3`, kinds, string(vt), limit)
	if err != nil {
		return nil, unavailable("list searching", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, unavailable("scan order", err)
		}
		out = append(out, o)
	}
	return out, unavailable("list searching", rows.Err())
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var pickup, merchant, customer, driver, candidates []byte
	var uids []string
	err := row.Scan(
		&o.ID, &o.Status, &o.Service, &o.VehicleType, &pickup, &merchant, &customer, &driver,
		&uids, &candidates, &o.CandidatesUpdatedAt,
		&o.CreatedAt, &o.AssignedAt, &o.StartedAt, &o.CompletedAt, &o.CancelledAt,
		&o.UpdatedAt, &o.DriverUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalOptional(pickup, &o.Pickup); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(merchant, &o.Merchant); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(driver, &o.Driver); err != nil {
		return nil, err
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &o.Customer); err != nil {
			return nil, err
		}
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &o.Candidates); err != nil {
			return nil, err
		}
	}
	for _, u := range uids {
		o.CandidateUIDs = append(o.CandidateUIDs, types.ID(u))
	}
	return &o, nil
}

// patchColumns turns the set fields of p into SET clauses and positional args.
func patchColumns(p Patch) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addTime := func(col string, t *time.Time) {
		if t != nil {
			add(col, *t)
		}
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Driver != nil {
		b, err := json.Marshal(p.Driver)
		if err != nil {
			return nil, nil, err
		}
		add("driver", string(b))
		add("driver_uid", string(p.Driver.UID))
	}
	addTime("assigned_at", p.AssignedAt)
	addTime("started_at", p.StartedAt)
	addTime("completed_at", p.CompletedAt)
	addTime("cancelled_at", p.CancelledAt)
	addTime("updated_at", p.UpdatedAt)
	addTime("driver_updated_at", p.DriverUpdatedAt)
	return sets, args, nil
}

func jsonOrNil[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalOptional[T any](b []byte, dst **T) error {
	if len(b) == 0 || string(b) == "null" {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}
