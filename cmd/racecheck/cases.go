// README: Race check cases: backend reachability, dispatch ranking, accept races and dispatch load.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "API: health", Run: checkHealth},
		{Name: "Dispatch: nearest driver first", Run: checkDispatchOrder},
		{Name: "Accept: exactly one winner", Run: checkAcceptRace},
		{Name: "Accept: cancel wins or loses cleanly", Run: checkAcceptVsCancel},
		{Name: "Dispatch: concurrent with accept", Run: checkDispatchDuringAccept},
		{Name: "Perf: dispatch under load", Run: checkDispatchLoad},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "dsn not set"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name='orders')").Scan(&exists)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if !exists {
		return Result{Status: StatusFail, Note: "orders table missing; run with db.migrate=true"}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not set"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	status, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func checkDispatchOrder(ctx context.Context, r *Runner) Result {
	customer, err := r.token("cust-dispatch", infra.RoleCustomer, "")
	if err != nil {
		return fail(err)
	}
	// Offsets north of the pickup, in degrees of latitude.
	offsets := map[string]float64{"near": 0.001, "mid": 0.01, "far": 0.05}
	for name, dLat := range offsets {
		if err := r.goOnline(ctx, r.driverID(name), "car2", pickupLat+dLat, pickupLng); err != nil {
			return fail(err)
		}
	}
	id, err := r.createOrder(ctx, customer, "car2")
	if err != nil {
		return fail(err)
	}
	start := time.Now()
	var resp dispatchResp
	if err := r.expect(ctx, http.MethodPost, "/api/dispatch", customer, map[string]any{"orderId": id}, http.StatusOK, &resp); err != nil {
		return fail(err)
	}
	latency := time.Since(start)

	pos := map[string]int{}
	for i, c := range resp.Candidates {
		pos[c.UID] = i
	}
	order := []string{r.driverID("near"), r.driverID("mid"), r.driverID("far")}
	for i := 1; i < len(order); i++ {
		a, okA := pos[order[i-1]]
		b, okB := pos[order[i]]
		if !okA || !okB || a > b {
			return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("unexpected ranking %v", resp.Candidates)}
		}
	}
	if !sort.SliceIsSorted(resp.Candidates, func(i, j int) bool {
		return resp.Candidates[i].DistanceMeters < resp.Candidates[j].DistanceMeters
	}) {
		return Result{Status: StatusFail, Latency: latency, Note: "candidates not sorted by distance"}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("candidates=%d fetched=%d", len(resp.Candidates), resp.Debug.TotalFetched)}
}

func checkAcceptRace(ctx context.Context, r *Runner) Result {
	customer, err := r.token("cust-race", infra.RoleCustomer, "")
	if err != nil {
		return fail(err)
	}
	drivers, err := r.driverTokens("race", r.cfg.Drivers)
	if err != nil {
		return fail(err)
	}
	start := time.Now()
	for round := 0; round < r.cfg.Rounds; round++ {
		id, err := r.createOrder(ctx, customer, "any")
		if err != nil {
			return fail(err)
		}
		statuses := r.raceAccept(ctx, id, drivers)
		won, lost, other := tally(statuses)
		if won != 1 || other != 0 {
			return Result{Status: StatusFail, Note: fmt.Sprintf("round %d: winners=%d conflicts=%d other=%d", round, won, lost, other)}
		}
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("rounds=%d drivers=%d", r.cfg.Rounds, len(drivers))}
}

func checkAcceptVsCancel(ctx context.Context, r *Runner) Result {
	customer, err := r.token("cust-cancel", infra.RoleCustomer, "")
	if err != nil {
		return fail(err)
	}
	drivers, err := r.driverTokens("cancel", r.cfg.Drivers)
	if err != nil {
		return fail(err)
	}
	for round := 0; round < r.cfg.Rounds; round++ {
		id, err := r.createOrder(ctx, customer, "any")
		if err != nil {
			return fail(err)
		}
		var cancelStatus int
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancelStatus, _, _ = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/cancel", customer, map[string]any{"reason": "racecheck"})
		}()
		statuses := r.raceAccept(ctx, id, drivers)
		wg.Wait()

		won, _, other := tally(statuses)
		if other != 0 || won > 1 {
			return Result{Status: StatusFail, Note: fmt.Sprintf("round %d: winners=%d other=%d", round, won, other)}
		}
		var view orderResp
		if err := r.expect(ctx, http.MethodGet, "/api/orders/"+id, customer, nil, http.StatusOK, &view); err != nil {
			return fail(err)
		}
		// Whatever the interleaving, the customer's cancel is honoured.
		if cancelStatus != http.StatusOK || view.Order.Status != "cancelled" {
			return Result{Status: StatusFail, Note: fmt.Sprintf("round %d: cancel=%d final=%s", round, cancelStatus, view.Order.Status)}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("rounds=%d", r.cfg.Rounds)}
}

func checkDispatchDuringAccept(ctx context.Context, r *Runner) Result {
	customer, err := r.token("cust-mixed", infra.RoleCustomer, "")
	if err != nil {
		return fail(err)
	}
	drivers, err := r.driverTokens("mixed", r.cfg.Drivers)
	if err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer, "any")
	if err != nil {
		return fail(err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			return r.expect(gctx, http.MethodPost, "/api/dispatch", customer, map[string]any{"orderId": id}, http.StatusOK, nil)
		})
	}
	statuses := r.raceAccept(ctx, id, drivers)
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if won, _, other := tally(statuses); won != 1 || other != 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("winners=%d other=%d", won, other)}
	}
	var view orderResp
	if err := r.expect(ctx, http.MethodGet, "/api/orders/"+id, customer, nil, http.StatusOK, &view); err != nil {
		return fail(err)
	}
	if view.Order.Status != "assigned" || view.Order.Driver == nil {
		return Result{Status: StatusFail, Note: fmt.Sprintf("dispatch clobbered assignment: status=%s", view.Order.Status)}
	}
	return Result{Status: StatusPass}
}

func checkDispatchLoad(ctx context.Context, r *Runner) Result {
	customer, err := r.token("cust-load", infra.RoleCustomer, "")
	if err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer, "any")
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()
	var (
		mu        sync.Mutex
		latencies []time.Duration
		failures  int
	)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				err := r.expect(ctx, http.MethodPost, "/api/dispatch", customer, map[string]any{"orderId": id}, http.StatusOK, nil)
				mu.Lock()
				if err != nil && ctx.Err() == nil {
					failures++
				} else if err == nil {
					latencies = append(latencies, time.Since(start))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: StatusFail, Note: "no successful dispatches"}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := latencies[len(latencies)*95/100]
	note := fmt.Sprintf("requests=%d failures=%d p95=%s", len(latencies), failures, p95)
	if failures > 0 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Latency: p95, Note: note}
}

// raceAccept fires one accept per driver behind a shared start barrier and
// returns the HTTP statuses.
func (r *Runner) raceAccept(ctx context.Context, orderID string, drivers []string) []int {
	statuses := make([]int, len(drivers))
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i, tok := range drivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			status, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+orderID+"/accept", tok, nil)
			if err != nil {
				status = -1
			}
			statuses[i] = status
		}()
	}
	close(ready)
	wg.Wait()
	return statuses
}

func tally(statuses []int) (won, lost, other int) {
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			lost++
		default:
			other++
		}
	}
	return won, lost, other
}

func fail(err error) Result {
	return Result{Status: StatusFail, Note: err.Error()}
}
