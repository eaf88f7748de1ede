package tpc

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/toeirei/tpcbridge/internal/logging"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeResource struct {
	key   string
	calls *[]string
	fail  map[string]error
}

func (r *fakeResource) SortKey() string { return r.key }

func (r *fakeResource) do(op string) error {
	*r.calls = append(*r.calls, r.key+":"+op)
	return r.fail[op]
}

func (r *fakeResource) Abort(context.Context, *Transaction) error    { return r.do("abort") }
func (r *fakeResource) TPCBegin(context.Context, *Transaction) error { return r.do("tpc_begin") }
func (r *fakeResource) Commit(context.Context, *Transaction) error   { return r.do("commit") }
func (r *fakeResource) TPCVote(context.Context, *Transaction) error  { return r.do("tpc_vote") }
func (r *fakeResource) TPCFinish(context.Context, *Transaction) error {
	return r.do("tpc_finish")
}
func (r *fakeResource) TPCAbort(context.Context, *Transaction) error { return r.do("tpc_abort") }

type savepointResource struct {
	fakeResource
	unsupported bool
}

func (r *savepointResource) SupportsSavepoints() bool { return !r.unsupported }

type fakeSavepoint struct {
	r *savepointResource
}

func (p fakeSavepoint) Rollback(context.Context) error { return p.r.do("rollback_savepoint") }

func (r *savepointResource) Savepoint(context.Context) (ResourceSavepoint, error) {
	if err := r.do("savepoint"); err != nil {
		return nil, err
	}
	return fakeSavepoint{r: r}, nil
}

type recordingSync struct {
	calls  *[]string
	before error
}

func (s *recordingSync) BeforeCompletion(context.Context, *Transaction) error {
	*s.calls = append(*s.calls, "sync:before")
	return s.before
}

func (s *recordingSync) AfterCompletion(_ context.Context, txn *Transaction) {
	*s.calls = append(*s.calls, "sync:after:"+txn.Status().String())
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	logging.Discard()
	m, err := NewManager(opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestBeginAndCurrent(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if Current(ctx) != nil {
		t.Fatalf("no transaction expected in a bare context")
	}
	txn, tctx := m.Begin(ctx)
	if Current(tctx) != txn {
		t.Fatalf("Current should return the begun transaction")
	}
	if txn.ID() == "" || txn.Status() != Active {
		t.Fatalf("unexpected new transaction state: id=%q status=%v", txn.ID(), txn.Status())
	}
	other, octx := m.Begin(tctx)
	if Current(octx) != other || other.ID() == txn.ID() {
		t.Fatalf("a second Begin should shadow with a fresh transaction")
	}
}

func TestDataSlots(t *testing.T) {
	m := newManager(t)
	txn, _ := m.Begin(context.Background())
	key := new(int)
	if _, ok := txn.Data(key); ok {
		t.Fatalf("empty slot reported present")
	}
	txn.SetData(key, "v")
	if v, ok := txn.Data(key); !ok || v != "v" {
		t.Fatalf("Data = %v, %v", v, ok)
	}
	txn.DeleteData(key)
	if _, ok := txn.Data(key); ok {
		t.Fatalf("slot should be gone")
	}
}

func TestCommit_DrivesResourcesInSortKeyOrder(t *testing.T) {
	m := newManager(t)
	var calls []string
	txn, ctx := m.Begin(context.Background())
	txn.RegisterSync(&recordingSync{calls: &calls})
	for _, key := range []string{"b", "a"} {
		if err := txn.Join(&fakeResource{key: key, calls: &calls}); err != nil {
			t.Fatalf("Join %s: %v", key, err)
		}
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	want := []string{
		"sync:before",
		"a:tpc_begin", "b:tpc_begin",
		"a:commit", "b:commit",
		"a:tpc_vote", "b:tpc_vote",
		"a:tpc_finish", "b:tpc_finish",
		"sync:after:committed",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls =\n%v\nwant\n%v", calls, want)
	}
	if txn.Status() != Committed {
		t.Fatalf("status = %v", txn.Status())
	}
	if err := txn.Commit(ctx); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second Commit: got %v", err)
	}
	if err := txn.Join(&fakeResource{key: "c", calls: &calls}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Join after commit: got %v", err)
	}
}

func TestCommit_VoteFailureAbortsEveryone(t *testing.T) {
	m := newManager(t)
	var calls []string
	boom := errors.New("no")
	txn, ctx := m.Begin(context.Background())
	_ = txn.Join(&fakeResource{key: "a", calls: &calls})
	_ = txn.Join(&fakeResource{key: "b", calls: &calls, fail: map[string]error{"tpc_vote": boom}})

	err := txn.Commit(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected vote error, got %v", err)
	}
	want := []string{
		"a:tpc_begin", "b:tpc_begin",
		"a:commit", "b:commit",
		"a:tpc_vote", "b:tpc_vote",
		"a:tpc_abort", "b:tpc_abort",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls =\n%v\nwant\n%v", calls, want)
	}
	if txn.Status() != CommitFailed {
		t.Fatalf("status = %v", txn.Status())
	}
	if err := txn.Abort(ctx); err != nil {
		t.Fatalf("Abort after failed commit: %v", err)
	}
}

func TestCommit_FinishFailureStillFinishesOthers(t *testing.T) {
	m := newManager(t)
	var calls []string
	boom := errors.New("lost connection")
	txn, ctx := m.Begin(context.Background())
	_ = txn.Join(&fakeResource{key: "a", calls: &calls, fail: map[string]error{"tpc_finish": boom}})
	_ = txn.Join(&fakeResource{key: "b", calls: &calls})

	if err := txn.Commit(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected finish error, got %v", err)
	}
	if calls[len(calls)-1] != "b:tpc_finish" {
		t.Fatalf("remaining resources must still be finished: %v", calls)
	}
	if txn.Status() != CommitFailed {
		t.Fatalf("status = %v", txn.Status())
	}
}

func TestCommit_BeforeCompletionFailureAborts(t *testing.T) {
	m := newManager(t)
	var calls []string
	veto := errors.New("veto")
	txn, ctx := m.Begin(context.Background())
	txn.RegisterSync(&recordingSync{calls: &calls, before: veto})
	_ = txn.Join(&fakeResource{key: "a", calls: &calls})

	if err := txn.Commit(ctx); !errors.Is(err, veto) {
		t.Fatalf("expected veto, got %v", err)
	}
	want := []string{"sync:before", "a:abort", "sync:after:commit_failed"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestAbort_JoinsErrorsAndIsIdempotent(t *testing.T) {
	m := newManager(t)
	var calls []string
	e1, e2 := errors.New("one"), errors.New("two")
	txn, ctx := m.Begin(context.Background())
	_ = txn.Join(&fakeResource{key: "a", calls: &calls, fail: map[string]error{"abort": e1}})
	_ = txn.Join(&fakeResource{key: "b", calls: &calls, fail: map[string]error{"abort": e2}})

	err := txn.Abort(ctx)
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected both abort errors, got %v", err)
	}
	if txn.Status() != Aborted {
		t.Fatalf("status = %v", txn.Status())
	}
	if err := txn.Abort(ctx); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("resources aborted more than once: %v", calls)
	}
}

func TestJoin_RejectsDuplicates(t *testing.T) {
	m := newManager(t)
	var calls []string
	txn, _ := m.Begin(context.Background())
	r := &fakeResource{key: "a", calls: &calls}
	if err := txn.Join(r); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := txn.Join(r); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("duplicate Join: got %v", err)
	}
	if got := len(txn.Resources()); got != 1 {
		t.Fatalf("expected one resource, got %d", got)
	}
}

func TestSavepoint(t *testing.T) {
	m := newManager(t)
	var calls []string
	txn, ctx := m.Begin(context.Background())
	r := &savepointResource{fakeResource: fakeResource{key: "a", calls: &calls}}
	_ = txn.Join(r)

	sp, err := txn.Savepoint(ctx)
	if err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if err := sp.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := sp.Rollback(ctx); !errors.Is(err, ErrSavepointInvalid) {
		t.Fatalf("second Rollback: got %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"a:savepoint", "a:rollback_savepoint"}) {
		t.Fatalf("calls = %v", calls)
	}

	_ = txn.Join(&fakeResource{key: "plain", calls: &calls})
	calls = nil
	if _, err := txn.Savepoint(ctx); !errors.Is(err, ErrSavepointsUnsupported) {
		t.Fatalf("expected ErrSavepointsUnsupported, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("no resource should be touched when one lacks savepoints: %v", calls)
	}
}

func TestSavepoint_CapabilityCheckedFirst(t *testing.T) {
	m := newManager(t)
	var calls []string
	txn, ctx := m.Begin(context.Background())
	_ = txn.Join(&savepointResource{fakeResource: fakeResource{key: "a", calls: &calls}})
	_ = txn.Join(&savepointResource{fakeResource: fakeResource{key: "b", calls: &calls}, unsupported: true})

	if _, err := txn.Savepoint(ctx); !errors.Is(err, ErrSavepointsUnsupported) {
		t.Fatalf("expected ErrSavepointsUnsupported, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("no savepoint should be taken: %v", calls)
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := newManager(t, WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	var calls []string

	ok, ctx := m.Begin(context.Background())
	_ = ok.Join(&fakeResource{key: "a", calls: &calls})
	if err := ok.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ab, ctx := m.Begin(context.Background())
	if err := ab.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "tpcbridge.tpc.completed_total" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", metric.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				got[status.AsString()] += dp.Value
			}
		}
	}
	if got["committed"] != 1 || got["aborted"] != 1 {
		t.Fatalf("completed_total = %v", got)
	}
}
