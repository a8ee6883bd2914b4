package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
)

// DefaultInterval is the polling period. Reconnection should be noticed
// within about a second.
const DefaultInterval = time.Second

// State is the connectivity snapshot. OfflineMode holds exactly when the
// last probe failed; Known is false until the first probe completed.
type State struct {
	Online      bool
	OfflineMode bool
	CheckedAt   time.Time
	Known       bool
}

// Transition is emitted whenever a probe changes the state. Initial marks
// the first probe of the process, which always produces a transition.
type Transition struct {
	From    bool
	To      bool
	At      time.Time
	Initial bool
}

type Option func(*Monitor)

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

func WithMetrics(s *metrics.Sync) Option {
	return func(m *Monitor) { m.metrics = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type Monitor struct {
	prober  Prober
	log     logging.Logger
	metrics *metrics.Sync
	now     func() time.Time

	inFlight atomic.Bool

	mu    sync.RWMutex
	state State
	subs  map[int]chan Transition
	next  int
}

func NewMonitor(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober: p,
		log:    logging.Discard(),
		now:    time.Now,
		subs:   map[int]chan Transition{},
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "connectivity")
	return m
}

// State returns the last known snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline reports the result of the last probe.
func (m *Monitor) IsOnline() bool {
	return m.State().Online
}

// Subscribe returns a channel receiving transitions and a function that
// cancels the subscription. Slow subscribers lose events rather than
// stall the monitor; State is always authoritative.
func (m *Monitor) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Check runs one probe and publishes a transition if the state changed.
// A call made while another check is in flight is dropped and reports
// ran=false with the current state.
func (m *Monitor) Check(ctx context.Context) (state State, ran bool) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.log.Debug(ctx, "probe already in flight, dropped")
		return m.State(), false
	}
	defer m.inFlight.Store(false)

	online := m.safeProbe(ctx)
	at := m.now()

	m.mu.Lock()
	prev := m.state
	m.state = State{Online: online, OfflineMode: !online, CheckedAt: at, Known: true}
	state = m.state

	var tr *Transition
	if !prev.Known || prev.Online != online {
		tr = &Transition{From: prev.Online, To: online, At: at, Initial: !prev.Known}
		for _, ch := range m.subs {
			select {
			case ch <- *tr:
			default:
				m.log.Warn(ctx, "subscriber lagging, transition dropped", "online", online)
			}
		}
	}
	m.mu.Unlock()

	m.log.Debug(ctx, "probe", "online", online)
	m.metrics.SetOnline(online)
	if tr != nil {
		m.metrics.ObserveTransition(online)
		m.log.Info(ctx, "connectivity changed", "online", online, "initial", tr.Initial)
	}
	return state, true
}

func (m *Monitor) safeProbe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn(ctx, "probe panicked", "panic", r)
			ok = false
		}
	}()
	return m.prober.Probe(ctx)
}

// NotifyLinkChange receives the platform's link up/down signal. The signal
// only prompts a real probe; it never sets the state by itself.
func (m *Monitor) NotifyLinkChange(ctx context.Context, up bool) State {
	m.log.Debug(ctx, "link change reported", "up", up)
	state, _ := m.Check(ctx)
	return state
}

// Run probes immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
