// Package manager orchestrates the registered protocol adapters: periodic
// and on-demand collection fan-out, result fan-in onto a bounded metrics
// channel, and reconnection of dropped adapters.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"station-bridge/internal/monitor"
	"station-bridge/pkg/adapter"
)

// Config tunes the manager. Zero fields fall back to defaults.
type Config struct {
	CollectInterval          time.Duration
	MetricsBufferSize        int
	MaxConcurrentCollections int
	RetryOnFailure           bool
	RetryInterval            time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		CollectInterval:          30 * time.Second,
		MetricsBufferSize:        10000,
		MaxConcurrentCollections: 10,
		RetryOnFailure:           true,
		RetryInterval:            30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CollectInterval <= 0 {
		c.CollectInterval = def.CollectInterval
	}
	if c.MetricsBufferSize <= 0 {
		c.MetricsBufferSize = def.MetricsBufferSize
	}
	if c.MaxConcurrentCollections <= 0 {
		c.MaxConcurrentCollections = def.MaxConcurrentCollections
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	return c
}

// collectResult carries one adapter's cycle outcome to the result processor.
type collectResult struct {
	adapterName string
	metrics     []adapter.Metric
	err         error
}

// Manager owns the adapter registry and the collection machinery.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	adapters map[string]adapter.Adapter

	metricsCh chan adapter.Metric
	resultsCh chan collectResult
	sem       chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		adapters:  make(map[string]adapter.Adapter),
		metricsCh: make(chan adapter.Metric, cfg.MetricsBufferSize),
		resultsCh: make(chan collectResult, cfg.MaxConcurrentCollections),
		sem:       make(chan struct{}, cfg.MaxConcurrentCollections),
		done:      make(chan struct{}),
	}
}

// Metrics is the externally observable output stream. It is bounded and
// lossy under sustained overload; see the result processor.
func (m *Manager) Metrics() <-chan adapter.Metric { return m.metricsCh }

// Register adds a named adapter. Names are unique for the manager's
// lifetime.
func (m *Manager) Register(a adapter.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := a.Name()
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	m.adapters[name] = a
	log.Printf("manager: registered adapter %q", name)
	return nil
}

// Unregister closes and removes an adapter. Close errors are logged, not
// propagated, so one misbehaving adapter cannot block its own removal.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, exists := m.adapters[name]
	if !exists {
		return fmt.Errorf("adapter %q not found", name)
	}
	if err := a.Close(); err != nil {
		log.Printf("manager: close adapter %q: %v", name, err)
	}
	delete(m.adapters, name)
	return nil
}

// GetAdapter looks up a registered adapter by name.
func (m *Manager) GetAdapter(name string) (adapter.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, exists := m.adapters[name]
	if !exists {
		return nil, fmt.Errorf("adapter %q not found", name)
	}
	return a, nil
}

// ListAdapters returns the registered adapter names.
func (m *Manager) ListAdapters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

// Status reports connectivity per adapter.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := make(map[string]bool, len(m.adapters))
	for name, a := range m.adapters {
		st[name] = a.IsConnected()
	}
	return st
}

// ConnectAll connects every registered adapter in parallel. Partial failure
// yields a combined error naming each failing adapter but leaves the
// successfully connected ones up; the reconnection loop retries the rest.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]adapter.Adapter, len(m.adapters))
	for name, a := range m.adapters {
		snapshot[name] = a
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		errs []error
	)
	for name, a := range snapshot {
		wg.Add(1)
		go func(name string, a adapter.Adapter) {
			defer wg.Done()
			if err := a.Connect(ctx); err != nil {
				errM.Lock()
				errs = append(errs, fmt.Errorf("connect %q: %w", name, err))
				errM.Unlock()
			}
		}(name, a)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Start connects all adapters (partial failure is logged, not fatal) and
// launches the background loops. It returns immediately; the loops run
// until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.ConnectAll(ctx); err != nil {
		log.Printf("manager: partial connect failure: %v", err)
	}

	go m.collectionLoop(ctx)
	go m.resultProcessor(ctx)
	if m.cfg.RetryOnFailure {
		go m.reconnectionLoop(ctx)
	}
	log.Printf("manager: started with %d adapter(s), interval %s",
		len(m.ListAdapters()), m.cfg.CollectInterval)
	return nil
}

// Stop asserts the shutdown signal exactly once and closes every adapter.
// Repeat calls, including concurrent ones, are no-ops returning nil.
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.done)

		m.mu.RLock()
		defer m.mu.RUnlock()
		var errs []error
		for name, a := range m.adapters {
			if cerr := a.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close %q: %w", name, cerr))
			}
		}
		m.stopErr = errors.Join(errs...)
		err = m.stopErr
	})
	return err
}

// CollectNow runs one bounded collection across all connected adapters and
// returns the union of their metrics. Per-adapter failures are logged and
// that adapter's contribution omitted; CollectNow itself does not fail on
// them.
func (m *Manager) CollectNow(ctx context.Context) ([]adapter.Metric, error) {
	connected := m.connectedAdapters()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		coll []adapter.Metric
	)
	for _, a := range connected {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			select {
			case m.sem <- struct{}{}:
				defer func() { <-m.sem }()
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
			metrics, err := a.CollectMetrics(ctx)
			if err != nil {
				log.Printf("manager: collect %q: %v", a.Name(), err)
				monitor.CollectErrors.WithLabelValues(a.Name()).Inc()
				return
			}
			mu.Lock()
			coll = append(coll, metrics...)
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return coll, nil
}

func (m *Manager) connectedAdapters() []adapter.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]adapter.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		if a.IsConnected() {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) collectionLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.triggerCollection(ctx)
		}
	}
}

// triggerCollection fans one collection cycle out over the connected
// adapters. Each worker posts its result select-guarded against shutdown so
// it can never block forever, and the cycle wait is itself bounded so a
// hung adapter cannot stall scheduling of the next tick; stragglers are
// left to finish on their own.
func (m *Manager) triggerCollection(ctx context.Context) {
	connected := m.connectedAdapters()
	if len(connected) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, a := range connected {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			select {
			case m.sem <- struct{}{}:
				defer func() { <-m.sem }()
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}

			metrics, err := a.CollectMetrics(ctx)
			monitor.Collections.WithLabelValues(a.Name()).Inc()
			res := collectResult{adapterName: a.Name(), metrics: metrics, err: err}
			select {
			case m.resultsCh <- res:
			case <-ctx.Done():
			case <-m.done:
			}
		}(a)
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(m.cfg.CollectInterval):
		log.Printf("manager: collection cycle overran the interval")
	case <-ctx.Done():
	case <-m.done:
	}
}

// resultProcessor is the single consumer of the results channel. Errored
// results are logged and dropped. Forwarding to the metrics channel is
// non-blocking: when the buffer is full the oldest entry is evicted and the
// send retried once, so the stream stays fresh but is lossy under sustained
// overload.
func (m *Manager) resultProcessor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case res := <-m.resultsCh:
			if res.err != nil {
				log.Printf("manager: collect %q: %v", res.adapterName, res.err)
				monitor.CollectErrors.WithLabelValues(res.adapterName).Inc()
				continue
			}
			for _, metric := range res.metrics {
				m.forward(metric)
			}
		}
	}
}

func (m *Manager) forward(metric adapter.Metric) {
	select {
	case m.metricsCh <- metric:
		monitor.MetricsForwarded.Inc()
		return
	default:
	}
	// Buffer full: evict the oldest entry and retry once.
	select {
	case <-m.metricsCh:
		monitor.MetricsDropped.Inc()
	default:
	}
	select {
	case m.metricsCh <- metric:
		monitor.MetricsForwarded.Inc()
	default:
		monitor.MetricsDropped.Inc()
	}
}

func (m *Manager) reconnectionLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.reconnectDisconnected(ctx)
		}
	}
}

// reconnectDisconnected retries Connect on every adapter currently down.
// Failures are logged and retried on the next tick, indefinitely.
func (m *Manager) reconnectDisconnected(ctx context.Context) {
	m.mu.RLock()
	down := make([]adapter.Adapter, 0)
	for _, a := range m.adapters {
		if !a.IsConnected() {
			down = append(down, a)
		}
	}
	m.mu.RUnlock()

	for _, a := range down {
		monitor.Reconnects.WithLabelValues(a.Name()).Inc()
		if err := a.Connect(ctx); err != nil {
			log.Printf("manager: reconnect %q: %v", a.Name(), err)
			continue
		}
		log.Printf("manager: reconnected %q", a.Name())
	}
}
