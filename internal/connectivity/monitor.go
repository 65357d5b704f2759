// Package connectivity tracks reachability of the remote service and raises
// debounced offline-to-online events.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/metrics"
)

// Options configures a Monitor.
type Options struct {
	// Debounce is how long the link must stay up before an offline to
	// online transition is reported. Zero reports immediately.
	Debounce time.Duration
	// RetryInterval, when positive, re-triggers sync periodically while
	// connected, backing off up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	// InitiallyConnected is the state before any source reports.
	InitiallyConnected bool
}

// Source reports reachability changes until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, report func(reachable bool)) error
}

// Monitor is the connectivity monitor.
type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	reachable bool // latest raw signal
	settled   bool // state after debouncing
	gen       uint64
	timer     *time.Timer
	nextID    int
	callbacks map[int]func()
	backoff   *Backoff

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Monitor.
func New(opts Options, logger *slog.Logger) *Monitor {
	if opts.MaxRetryInterval < opts.RetryInterval {
		opts.MaxRetryInterval = 16 * opts.RetryInterval
	}
	m := &Monitor{
		opts:      opts,
		logger:    logging.OrDiscard(logger).With(slog.String("component", "connectivity")),
		reachable: opts.InitiallyConnected,
		settled:   opts.InitiallyConnected,
		callbacks: make(map[int]func()),
	}
	if opts.RetryInterval > 0 {
		m.backoff = NewBackoff(opts.RetryInterval, opts.MaxRetryInterval, 2)
	}
	metrics.Reachable.Set(boolGauge(m.reachable))
	return m
}

// IsConnected returns the best-known reachability.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// OnBecameConnected registers cb for settled offline to online transitions.
// It returns a function that unregisters cb.
func (m *Monitor) OnBecameConnected(cb func()) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.callbacks[id] = cb
	return func() {
		m.mu.Lock()
		delete(m.callbacks, id)
		m.mu.Unlock()
	}
}

// SetReachable feeds a raw reachability signal. Going offline takes effect
// at once; coming online is reported after the debounce window, and a drop
// inside the window cancels it.
func (m *Monitor) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reachable == m.reachable {
		return
	}
	m.reachable = reachable
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	metrics.Reachable.Set(boolGauge(reachable))

	if !reachable {
		if m.settled {
			m.settled = false
			metrics.ConnectivityTransitions.WithLabelValues("offline").Inc()
			m.logger.Info("connectivity lost")
		}
		return
	}

	if m.settled {
		// Flapped back inside the window; nothing changed.
		return
	}
	gen := m.gen
	if m.opts.Debounce <= 0 {
		m.settleLocked(gen)
		return
	}
	m.timer = time.AfterFunc(m.opts.Debounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.settleLocked(gen)
	})
}

// settleLocked completes an online transition started at generation gen.
func (m *Monitor) settleLocked(gen uint64) {
	if gen != m.gen || !m.reachable || m.settled {
		return
	}
	m.settled = true
	m.timer = nil
	if m.backoff != nil {
		m.backoff.Reset()
	}
	metrics.ConnectivityTransitions.WithLabelValues("online").Inc()
	m.logger.Info("connectivity restored")
	m.fireLocked()
}

func (m *Monitor) fireLocked() {
	for _, cb := range m.callbacks {
		go cb()
	}
}

// TriggerSync runs the registered callbacks as if a transition had just
// settled. The sync engine coalesces overlapping drains, so calling this
// while a sync is running is harmless.
func (m *Monitor) TriggerSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireLocked()
}

// Start runs the sources and the retry loop in the background.
func (m *Monitor) Start(ctx context.Context, sources ...Source) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	for _, src := range sources {
		m.wg.Add(1)
		go func(src Source) {
			defer m.wg.Done()
			m.logger.Info("reachability source started", slog.String("source", src.Name()))
			if err := src.Run(ctx, m.SetReachable); err != nil && ctx.Err() == nil {
				m.logger.Error("reachability source stopped", slog.String("source", src.Name()), slog.Any("error", err))
			}
		}(src)
	}
	if m.backoff != nil {
		m.wg.Add(1)
		go m.retryLoop(ctx)
	}
}

// Stop stops the sources and waits for them to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.runMu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// retryLoop re-triggers sync while connected so operations deferred by a
// transport failure are retried without a new transition.
func (m *Monitor) retryLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		delay := m.backoff.Next()
		m.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if m.settled {
			m.logger.Debug("retry trigger", slog.Duration("after", delay))
			m.fireLocked()
		}
		m.mu.Unlock()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
