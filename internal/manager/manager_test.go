package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"station-bridge/pkg/adapter"
)

// fakeAdapter is a configurable in-memory adapter.
type fakeAdapter struct {
	name string

	mu        sync.Mutex
	connected bool

	connectErr error
	collectErr error
	metrics    []adapter.Metric
	collectGap time.Duration

	connectCalls int32
	collectCalls int32
	closeCalls   int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connectCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeAdapter) Close() error {
	atomic.AddInt32(&f.closeCalls, 1)
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) CollectMetrics(ctx context.Context) ([]adapter.Metric, error) {
	atomic.AddInt32(&f.collectCalls, 1)
	if f.collectGap > 0 {
		select {
		case <-time.After(f.collectGap):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	return f.metrics, nil
}

func (f *fakeAdapter) CollectMetric(ctx context.Context, t adapter.MetricType) (*adapter.Metric, error) {
	for _, m := range f.metrics {
		if m.Type == t {
			return &m, nil
		}
	}
	return nil, adapter.ErrNotSupported
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	if err := m.Register(&fakeAdapter{name: "x"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := m.Register(&fakeAdapter{name: "x"}); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	if err := m.Unregister("y"); err == nil {
		t.Fatal("Unregister of unknown adapter succeeded")
	}

	a := &fakeAdapter{name: "y", connected: true}
	if err := m.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Unregister("y"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if atomic.LoadInt32(&a.closeCalls) != 1 {
		t.Fatalf("adapter closed %d times, want 1", a.closeCalls)
	}
	if _, err := m.GetAdapter("y"); err == nil {
		t.Fatal("adapter still present after Unregister")
	}
}

func TestConnectAllPartialFailure(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	good := &fakeAdapter{name: "good"}
	bad := &fakeAdapter{name: "bad", connectErr: errors.New("refused")}
	for _, a := range []adapter.Adapter{good, bad} {
		if err := m.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	err := m.ConnectAll(context.Background())
	if err == nil {
		t.Fatal("ConnectAll swallowed the failing adapter")
	}
	if !good.IsConnected() {
		t.Fatal("healthy adapter not connected despite partial failure")
	}
	st := m.Status()
	if st["good"] != true || st["bad"] != false {
		t.Fatalf("unexpected status: %v", st)
	}
}

func TestCollectNowFanOut(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	connected := []*fakeAdapter{
		{name: "a", connected: true, metrics: []adapter.Metric{{Type: adapter.MetricTemperature, Value: 21.5}}},
		{name: "b", connected: true, metrics: []adapter.Metric{
			{Type: adapter.MetricVoltage, Value: 48},
			{Type: adapter.MetricCurrent, Value: 3.2},
		}},
	}
	down := &fakeAdapter{name: "down", metrics: []adapter.Metric{{Type: adapter.MetricSNR, Value: 9}}}

	for _, a := range connected {
		if err := m.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := m.Register(down); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := m.CollectNow(context.Background())
	if err != nil {
		t.Fatalf("CollectNow failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d metrics, want 3: %+v", len(got), got)
	}
	for _, a := range connected {
		if n := atomic.LoadInt32(&a.collectCalls); n != 1 {
			t.Fatalf("adapter %s collected %d times, want 1", a.name, n)
		}
	}
	if atomic.LoadInt32(&down.collectCalls) != 0 {
		t.Fatal("disconnected adapter was collected")
	}

	// The union is order-insensitive; verify by type set.
	types := map[adapter.MetricType]bool{}
	for _, mt := range got {
		types[mt.Type] = true
	}
	for _, want := range []adapter.MetricType{adapter.MetricTemperature, adapter.MetricVoltage, adapter.MetricCurrent} {
		if !types[want] {
			t.Fatalf("missing metric type %s in %v", want, got)
		}
	}
}

func TestCollectNowSkipsFailingAdapter(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	ok := &fakeAdapter{name: "ok", connected: true, metrics: []adapter.Metric{{Type: adapter.MetricUptime, Value: 100}}}
	failing := &fakeAdapter{name: "failing", connected: true, collectErr: errors.New("timeout")}
	for _, a := range []adapter.Adapter{ok, failing} {
		if err := m.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	got, err := m.CollectNow(context.Background())
	if err != nil {
		t.Fatalf("CollectNow must not fail on one bad adapter: %v", err)
	}
	if len(got) != 1 || got[0].Type != adapter.MetricUptime {
		t.Fatalf("unexpected metrics: %+v", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())

	a := &fakeAdapter{name: "a", connected: true}
	if err := m.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Stop()
		}()
	}
	wg.Wait()
	_ = m.Stop()

	if n := atomic.LoadInt32(&a.closeCalls); n != 1 {
		t.Fatalf("adapter closed %d times across repeated Stop, want 1", n)
	}
	select {
	case <-m.done:
	default:
		t.Fatal("done channel not closed after Stop")
	}
}

func TestPeriodicCollectionDeliversMetrics(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CollectInterval = 20 * time.Millisecond
	cfg.RetryOnFailure = false
	m := New(cfg)

	a := &fakeAdapter{name: "a", metrics: []adapter.Metric{{Type: adapter.MetricTemperature, Value: 18}}}
	if err := m.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	select {
	case got := <-m.Metrics():
		if got.Type != adapter.MetricTemperature || got.Value != 18 {
			t.Fatalf("unexpected metric: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no metric arrived on the output channel")
	}
}

func TestReconnectionLoop(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CollectInterval = time.Hour // keep collection quiet
	cfg.RetryInterval = 20 * time.Millisecond
	m := New(cfg)

	a := &fakeAdapter{name: "flaky", connectErr: errors.New("refused")}
	if err := m.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	// Let a few retry ticks fail, then heal the adapter.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&a.connectCalls) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.mu.Lock()
	a.connectErr = nil
	a.mu.Unlock()

	for !a.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !a.IsConnected() {
		t.Fatal("reconnection loop never brought the adapter back")
	}
}

func TestHungAdapterDoesNotStallNextTick(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CollectInterval = 30 * time.Millisecond
	cfg.MaxConcurrentCollections = 64
	cfg.RetryOnFailure = false
	m := New(cfg)

	hung := &fakeAdapter{name: "hung", connected: true, collectGap: 10 * time.Second}
	brisk := &fakeAdapter{name: "brisk", connected: true,
		metrics: []adapter.Metric{{Type: adapter.MetricVoltage, Value: 48}}}
	for _, a := range []adapter.Adapter{hung, brisk} {
		if err := m.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	// The hung adapter never finishes a cycle; later ticks must still fire
	// and keep collecting the responsive one.
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&brisk.collectCalls) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&brisk.collectCalls); n < 3 {
		t.Fatalf("responsive adapter collected %d times; ticks stalled behind the hung one", n)
	}
	if atomic.LoadInt32(&hung.collectCalls) == 0 {
		t.Fatal("hung adapter was never scheduled")
	}

	select {
	case got := <-m.Metrics():
		if got.Type != adapter.MetricVoltage {
			t.Fatalf("unexpected metric: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no metric arrived while a collection was hung")
	}

	// Shutdown must not wait for the stragglers either.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		cancel()
		_ = m.Stop()
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited on a hung collection")
	}
}

func TestForwardEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MetricsBufferSize = 2
	m := New(cfg)

	for i := 0; i < 5; i++ {
		m.forward(adapter.Metric{Type: adapter.MetricUptime, Value: float32(i)})
	}

	// Freshest two values survive; the oldest were evicted.
	first := <-m.Metrics()
	second := <-m.Metrics()
	if first.Value != 3 || second.Value != 4 {
		t.Fatalf("got %v,%v after overflow, want 3,4", first.Value, second.Value)
	}
	select {
	case extra := <-m.Metrics():
		t.Fatalf("unexpected extra buffered metric: %+v", extra)
	default:
	}
}

func TestStatusUnderConcurrentCollection(t *testing.T) {
	t.Parallel()
	m := New(DefaultConfig())
	for i := 0; i < 8; i++ {
		a := &fakeAdapter{
			name:       fmt.Sprintf("a%d", i),
			connected:  true,
			collectGap: time.Millisecond,
			metrics:    []adapter.Metric{{Type: adapter.MetricCPULoad, Value: 0.5}},
		}
		if err := m.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.CollectNow(context.Background())
	}()
	for i := 0; i < 100; i++ {
		_ = m.Status()
		_ = m.ListAdapters()
	}
	<-done
}
