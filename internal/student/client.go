// Package student composes the test-taker side of a session: the connection
// controller, the interaction tracker and the violation engine. Detected
// violations are sent through the tracker as they happen.
package student

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"proctorwire/internal/clock"
	"proctorwire/internal/controller"
	"proctorwire/internal/signals"
	"proctorwire/internal/tracker"
	"proctorwire/internal/violation"
	"proctorwire/pkg/types"
)

// Config groups the component settings. Controller.UserID is the student ID.
type Config struct {
	Controller  controller.Config
	Tracker     tracker.Config
	Violation   violation.Options
	StudentName string
}

// Option configures a Client.
type Option func(*Client)

// WithClock drives every component from c.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d controller.Dialer) Option {
	return func(cl *Client) { cl.dialer = d }
}

// Client is one student's connection to a proctored session.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger *log.Logger
	dialer controller.Dialer

	conn    *controller.Controller
	tracker *tracker.Tracker
	engine  *violation.Engine

	mu        sync.Mutex
	attemptID string
	finished  bool
	unsubs    []func()
}

// New wires a client observing source for violations. Detection stays off
// until Start.
func New(cfg Config, source signals.Source, opts ...Option) *Client {
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = log.Default()
	}

	controllerOpts := []controller.Option{controller.WithClock(c.clock), controller.WithLogger(c.logger)}
	if c.dialer != nil {
		controllerOpts = append(controllerOpts, controller.WithDialer(c.dialer))
	}
	cfg.Controller.Role = types.RoleStudent
	c.conn = controller.New(cfg.Controller, controllerOpts...)

	// ARCHITECTURAL DISCOVERY: The engine is built disabled so no detector
	// fires before the tracker it reports through exists
	vopts := cfg.Violation
	vopts.Enabled = false
	vopts.Clock = c.clock
	vopts.Logger = c.logger
	userViolation := cfg.Violation.OnViolation
	vopts.OnViolation = func(kind types.ViolationKind) {
		if err := c.tracker.TrackViolation(kind); err != nil {
			c.logger.Printf("Violation not sent: kind=%s err=%v", kind, err)
		}
		if userViolation != nil {
			userViolation(kind)
		}
	}
	c.engine = violation.NewEngine(source, vopts)

	c.tracker = tracker.New(c.conn, cfg.Tracker,
		tracker.WithClock(c.clock),
		tracker.WithLogger(c.logger),
		tracker.WithCounters(c.engine),
		tracker.WithStudent(cfg.Controller.UserID, cfg.StudentName),
	)

	c.unsubs = append(c.unsubs,
		c.conn.OnMessage(c.handleMessage),
		c.conn.OnClose(c.handleClose),
	)
	return c
}

// Start connects to sessionID and begins tracking a new attempt. An empty
// attemptID gets a generated one.
func (c *Client) Start(ctx context.Context, sessionID, attemptID, token string) error {
	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	if err := c.conn.Connect(ctx, sessionID, token); err != nil {
		return err
	}

	c.mu.Lock()
	c.attemptID = attemptID
	c.finished = false
	c.mu.Unlock()

	c.tracker.Bind(attemptID)
	c.engine.SetEnabled(c.cfg.Violation.Enabled)
	c.logger.Printf("Student attempt started: student_id=%s session_id=%s attempt_id=%s",
		c.cfg.Controller.UserID, sessionID, attemptID)
	return nil
}

// Submit reports the attempt as handed in and stops detection.
func (c *Client) Submit(score *float64) error {
	c.mu.Lock()
	attemptID := c.attemptID
	done := c.finished
	c.mu.Unlock()
	if attemptID == "" {
		return ErrNotStarted
	}
	if done {
		return ErrAlreadyFinished
	}

	msg := &types.StudentSubmitted{
		Student:   types.Student{StudentID: c.cfg.Controller.UserID, StudentName: c.cfg.StudentName},
		AttemptID: attemptID,
		Score:     score,
	}
	if err := c.conn.Send(msg); err != nil {
		return fmt.Errorf("submit attempt %s: %w", attemptID, err)
	}
	c.finish("submitted")
	return nil
}

// Stop ends detection and tracking and closes the connection.
func (c *Client) Stop() {
	c.finish("stopped")
	c.conn.Disconnect()
}

// Close releases every component. The client cannot be restarted.
func (c *Client) Close() {
	c.Stop()
	c.tracker.Close()
	c.engine.Close()
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// TrackProgress forwards to the tracker.
func (c *Client) TrackProgress(passageIndex, questionIndex, questionNumber int) {
	c.tracker.TrackProgress(passageIndex, questionIndex, questionNumber)
}

// TrackHighlight forwards to the tracker.
func (c *Client) TrackHighlight(passageIndex int, text string, startOffset, endOffset int) {
	c.tracker.TrackHighlight(passageIndex, text, startOffset, endOffset)
}

// TrackAnswer forwards to the tracker.
func (c *Client) TrackAnswer(questionID string, answer any, questionNumber int) error {
	return c.tracker.TrackAnswer(questionID, answer, questionNumber)
}

// Controller exposes the connection for status and close subscriptions.
func (c *Client) Controller() *controller.Controller { return c.conn }

// Violations returns a copy of the engine's counters.
func (c *Client) Violations() types.ViolationCounters { return c.engine.Counters() }

// AttemptID returns the current attempt.
func (c *Client) AttemptID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID
}

// Finished reports whether the attempt was submitted, stopped or ended by
// the relay.
func (c *Client) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// finish turns detection and tracking off once.
func (c *Client) finish(reason string) {
	c.mu.Lock()
	if c.finished || c.attemptID == "" {
		c.mu.Unlock()
		return
	}
	c.finished = true
	attemptID := c.attemptID
	c.mu.Unlock()

	c.engine.SetEnabled(false)
	c.tracker.Unbind()
	c.logger.Printf("Student attempt finished: attempt_id=%s reason=%s violations=%d",
		attemptID, reason, c.engine.TotalViolations())
}

// handleMessage reacts to relay lifecycle messages; telemetry is one-way.
func (c *Client) handleMessage(m types.Message) {
	switch msg := m.(type) {
	case *types.SessionCompleted:
		c.finish("session completed")
	case *types.SessionStatusChanged:
		// FUNCTIONAL DISCOVERY: A paused session keeps the connection but
		// stops detection until it resumes
		c.mu.Lock()
		done := c.finished
		c.mu.Unlock()
		if done {
			return
		}
		switch msg.Status {
		case types.SessionStatusPaused:
			c.engine.SetEnabled(false)
		case types.SessionStatusActive:
			c.engine.SetEnabled(c.cfg.Violation.Enabled)
		case types.SessionStatusCompleted:
			c.finish("session completed")
		}
	case *types.Error:
		c.logger.Printf("Relay error: code=%s message=%s", msg.Code, msg.Message)
	}
}

func (c *Client) handleClose(info controller.CloseInfo) {
	switch info.Code {
	case types.CloseSessionEnded, types.CloseAccessDenied, types.CloseReplaced, types.CloseSessionNotFound:
		c.finish(types.CloseReason(info.Code))
	}
}
