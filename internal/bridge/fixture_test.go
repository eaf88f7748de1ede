package bridge

import (
	"context"
	"testing"

	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/toeirei/tpcbridge/internal/db/dbtest"
	"github.com/toeirei/tpcbridge/internal/logging"
	"github.com/toeirei/tpcbridge/internal/session"
	"github.com/toeirei/tpcbridge/internal/tpc"
	"github.com/uptrace/bun"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type item struct {
	bun.BaseModel `bun:"table:items"`

	ID  int64  `bun:"id,pk,autoincrement"`
	Val string `bun:"val"`
}

const createItems = "CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, val TEXT NOT NULL)"

type fixture struct {
	t       *testing.T
	bdb     *bun.DB
	dialect db.Dialect
	fake    *dbtest.FakeTwoPhase
	factory *session.Factory
	mgr     *tpc.Manager
	aw      *Awareness
	reader  *sdkmetric.ManualReader
}

// newFixture builds a sqlite-backed awareness. twoPhase swaps in the fake
// preparing dialect.
func newFixture(t *testing.T, twoPhase bool, factoryOpts ...session.FactoryOption) *fixture {
	t.Helper()
	logging.Discard()
	f := &fixture{t: t, bdb: dbtest.OpenSqlite(t), reader: sdkmetric.NewManualReader()}
	dbtest.MustExec(t, f.bdb, createItems)
	f.dialect = db.SqliteDialect{}
	if twoPhase {
		f.fake = dbtest.NewFakeTwoPhase()
		f.dialect = f.fake
	}
	f.factory = session.NewFactory(f.bdb, f.dialect, factoryOpts...)
	mgr, err := tpc.NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.mgr = mgr
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	f.aw = NewAwareness(f.factory, WithMeterProvider(mp))
	return f
}

// begin starts a transaction and joins a participant to it.
func (f *fixture) begin(opts ...BeginOption) (*tpc.Transaction, context.Context, *Participant) {
	f.t.Helper()
	txn, ctx := f.mgr.Begin(context.Background())
	p, err := f.aw.Begin(ctx, opts...)
	if err != nil {
		f.t.Fatalf("Awareness.Begin: %v", err)
	}
	return txn, ctx, p
}

func (f *fixture) count() int {
	f.t.Helper()
	return dbtest.Count(f.t, f.bdb, "items")
}

func (f *fixture) outcomes() map[string]int64 {
	f.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		f.t.Fatalf("collect metrics: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "tpcbridge.participant.outcomes_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				f.t.Fatalf("unexpected data %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				got[v.AsString()] += dp.Value
			}
		}
	}
	return got
}

func addItem(t *testing.T, s *session.Session, val string) {
	t.Helper()
	if err := s.Add(&item{Val: val}); err != nil {
		t.Fatalf("Add %s: %v", val, err)
	}
}

// failingResource votes no; its key sorts after every participant key.
type failingResource struct {
	key  string
	fail error
	done []string
}

func (r *failingResource) SortKey() string { return r.key }
func (r *failingResource) Abort(context.Context, *tpc.Transaction) error {
	r.done = append(r.done, "abort")
	return nil
}
func (r *failingResource) TPCBegin(context.Context, *tpc.Transaction) error { return nil }
func (r *failingResource) Commit(context.Context, *tpc.Transaction) error   { return nil }
func (r *failingResource) TPCVote(context.Context, *tpc.Transaction) error  { return r.fail }
func (r *failingResource) TPCFinish(context.Context, *tpc.Transaction) error {
	r.done = append(r.done, "tpc_finish")
	return nil
}
func (r *failingResource) TPCAbort(context.Context, *tpc.Transaction) error {
	r.done = append(r.done, "tpc_abort")
	return nil
}
