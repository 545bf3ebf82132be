// Package dashboard composes the supervisor side of a session: inbound
// messages pass through the batching pipeline, each batch is folded into the
// aggregator, and then handed to batch subscribers for rendering.
package dashboard

import (
	"context"
	"log"
	"sync"

	"proctorwire/internal/aggregator"
	"proctorwire/internal/clock"
	"proctorwire/internal/controller"
	"proctorwire/internal/pipeline"
	"proctorwire/pkg/types"
)

// Config groups the component settings. Controller.UserID is the supervisor ID.
type Config struct {
	Controller controller.Config
	Pipeline   pipeline.Config
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock drives the controller and pipeline from c.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d controller.Dialer) Option {
	return func(m *Monitor) { m.dialer = d }
}

// BatchHandler sees every batch after the aggregator has applied it.
type BatchHandler func(batch []types.Message)

type batchSub struct {
	id int
	fn BatchHandler
}

// Monitor is a supervisor's live view of one session.
type Monitor struct {
	clock  clock.Clock
	logger *log.Logger
	dialer controller.Dialer

	conn *controller.Controller
	pipe *pipeline.Pipeline
	agg  *aggregator.Aggregator

	mu     sync.Mutex
	subs   []batchSub
	nextID int
	unsubs []func()
}

// New wires a disconnected monitor.
func New(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = log.Default()
	}

	controllerOpts := []controller.Option{controller.WithClock(m.clock), controller.WithLogger(m.logger)}
	if m.dialer != nil {
		controllerOpts = append(controllerOpts, controller.WithDialer(m.dialer))
	}
	cfg.Controller.Role = types.RoleSupervisor
	m.conn = controller.New(cfg.Controller, controllerOpts...)
	m.pipe = pipeline.New(cfg.Pipeline, pipeline.WithClock(m.clock), pipeline.WithLogger(m.logger))
	m.agg = aggregator.New()

	// ARCHITECTURAL DISCOVERY: Aggregation happens before subscribers run, so
	// a renderer reading the projection inside its handler sees the batch applied
	m.pipe.OnBatch(m.deliver)
	m.unsubs = append(m.unsubs,
		m.conn.OnMessage(m.pipe.Add),
		m.conn.OnError(func(err error) {
			m.logger.Printf("Dashboard connection error: %v", err)
		}),
	)
	return m
}

// Connect opens the supervisor connection to sessionID.
func (m *Monitor) Connect(ctx context.Context, sessionID, token string) error {
	return m.conn.Connect(ctx, sessionID, token)
}

// Disconnect flushes buffered messages and closes the connection.
func (m *Monitor) Disconnect() {
	m.conn.Disconnect()
	m.pipe.Flush()
}

// Close disconnects and stops the pipeline. Buffered messages are delivered first.
func (m *Monitor) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	m.conn.Disconnect()
	m.pipe.Close()
}

// OnBatch subscribes to delivered batches and returns an unsubscribe function.
func (m *Monitor) OnBatch(fn BatchHandler) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, batchSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Monitor) deliver(batch []types.Message) {
	m.agg.Apply(batch)

	m.mu.Lock()
	subs := make([]batchSub, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, s := range subs {
		s.fn(batch)
	}
}

// Flush delivers buffered messages now.
func (m *Monitor) Flush() { m.pipe.Flush() }

// Students returns every student projection, sorted by student ID.
func (m *Monitor) Students() []types.StudentProjection { return m.agg.Students() }

// Student returns one projection.
func (m *Monitor) Student(id string) (types.StudentProjection, bool) { return m.agg.Student(id) }

// Session returns the session-level view.
func (m *Monitor) Session() aggregator.SessionView { return m.agg.Session() }

// Totals summarizes the student projections.
func (m *Monitor) Totals() aggregator.Totals { return m.agg.Totals() }

// PipelineStats reports buffer and delivery counters.
func (m *Monitor) PipelineStats() pipeline.Stats { return m.pipe.Stats() }

// Controller exposes the connection for status and close subscriptions.
func (m *Monitor) Controller() *controller.Controller { return m.conn }
