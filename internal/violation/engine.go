// Package violation turns noisy browser signals into a counted stream of
// typed violation events.
package violation

import (
	"log"
	"sync"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/internal/signals"
	"proctorwire/pkg/types"
)

// Default detector tuning.
const (
	DefaultBlurGrace            = 500 * time.Millisecond
	DefaultDevToolsPollInterval = time.Second
	DefaultDevToolsThreshold    = 160
)

// Options configures an Engine.
type Options struct {
	OnViolation    func(kind types.ViolationKind)
	OnWarning      func(message string)
	Enabled        bool
	EnableBlocking bool

	// BlurGrace is how long focus may be lost before a blur counts as a
	// tab switch.
	BlurGrace time.Duration
	// DevToolsPollInterval is how often the viewport heuristic runs.
	DevToolsPollInterval time.Duration
	// DevToolsThreshold is the outer-minus-inner size, in pixels, above
	// which a docked devtools panel is assumed.
	DevToolsThreshold int

	Clock  clock.Clock
	Logger *log.Logger
}

func (o *Options) defaults() {
	if o.BlurGrace <= 0 {
		o.BlurGrace = DefaultBlurGrace
	}
	if o.DevToolsPollInterval <= 0 {
		o.DevToolsPollInterval = DefaultDevToolsPollInterval
	}
	if o.DevToolsThreshold <= 0 {
		o.DevToolsThreshold = DefaultDevToolsThreshold
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// detector is one independently installed signal observer.
// ARCHITECTURAL DISCOVERY: install/remove are symmetric; the engine collects
// every remove function into one disposer list per enable cycle.
type detector interface {
	install(e *Engine, gen uint64) (remove func())
}

// Engine owns the violation counters. Only the engine writes them.
type Engine struct {
	source signals.Source
	opts   Options

	mu        sync.Mutex
	counters  types.ViolationCounters
	enabled   bool
	gen       uint64
	disposers []func()
}

// NewEngine creates an engine observing source. Detectors are installed
// immediately when opts.Enabled is set.
func NewEngine(source signals.Source, opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		source:   source,
		opts:     opts,
		counters: types.NewViolationCounters(),
	}
	if opts.Enabled {
		e.SetEnabled(true)
	}
	return e
}

// SetEnabled installs or removes every detector.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	if e.enabled == enabled {
		e.mu.Unlock()
		return
	}
	e.enabled = enabled
	e.gen++
	gen := e.gen
	disposers := e.disposers
	e.disposers = nil
	e.mu.Unlock()

	// Release in reverse acquisition order.
	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}
	if !enabled {
		return
	}

	detectors := []detector{
		&visibilityDetector{},
		&clipboardDetector{},
		&contextMenuDetector{},
		&devToolsDetector{},
		&fullscreenDetector{},
	}
	installed := make([]func(), 0, len(detectors))
	for _, d := range detectors {
		installed = append(installed, d.install(e, gen))
	}

	e.mu.Lock()
	if e.gen == gen {
		e.disposers = installed
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// Disabled again while installing.
	for i := len(installed) - 1; i >= 0; i-- {
		installed[i]()
	}
}

// Enabled reports whether detectors are installed.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Close removes every detector.
func (e *Engine) Close() {
	e.SetEnabled(false)
}

// Counters returns a copy of the per-kind counters.
func (e *Engine) Counters() types.ViolationCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters.Clone()
}

// Count returns the counter for one kind.
func (e *Engine) Count(kind types.ViolationKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[kind]
}

// TotalViolations sums every counter.
func (e *Engine) TotalViolations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters.Total()
}

// live reports whether a detector installed in generation gen may still act.
func (e *Engine) live(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled && e.gen == gen
}

// record counts one detection and notifies both callbacks. ev is the
// triggering browser event, or nil for polled detections.
func (e *Engine) record(gen uint64, kind types.ViolationKind, ev *signals.Event) {
	e.mu.Lock()
	if !e.enabled || e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.counters[kind]++
	count := e.counters[kind]
	e.mu.Unlock()

	if e.opts.EnableBlocking && ev != nil {
		ev.PreventDefault()
	}

	e.opts.Logger.Printf("Violation detected: kind=%s count=%d", kind, count)
	if e.opts.OnViolation != nil {
		e.opts.OnViolation(kind)
	}
	if e.opts.OnWarning != nil {
		e.opts.OnWarning(warningFor(kind))
	}
}

func warningFor(kind types.ViolationKind) string {
	switch kind {
	case types.ViolationTabSwitch:
		return "Leaving the test window is not allowed and has been recorded."
	case types.ViolationCopyAttempt:
		return "Copying test content is not allowed and has been recorded."
	case types.ViolationPasteAttempt:
		return "Pasting outside an answer field is not allowed and has been recorded."
	case types.ViolationRightClick:
		return "The context menu is disabled during the test."
	case types.ViolationDevTools:
		return "Developer tools are not allowed during the test."
	case types.ViolationFullScreenExit:
		return "Please return to full screen. Leaving full screen has been recorded."
	default:
		return "A test integrity violation has been recorded."
	}
}
