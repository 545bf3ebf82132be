package violation

import (
	"strings"
	"sync"

	"proctorwire/internal/clock"
	"proctorwire/internal/signals"
	"proctorwire/pkg/types"
)

// unsubscribeAll returns a remove function releasing every subscription.
func unsubscribeAll(unsubs ...func()) func() {
	return func() {
		for i := len(unsubs) - 1; i >= 0; i-- {
			unsubs[i]()
		}
	}
}

// visibilityDetector reports TAB_SWITCH for a hidden document, or for a
// window blur that outlasts the grace delay.
// FUNCTIONAL DISCOVERY: Transient focus loss (permission prompts, OS
// notifications) regains focus within the grace delay and is not counted.
type visibilityDetector struct {
	pending *clock.Slot
}

func (d *visibilityDetector) install(e *Engine, gen uint64) func() {
	d.pending = clock.NewSlot(e.opts.Clock)

	onVisibility := func(ev *signals.Event) {
		if !ev.Hidden {
			return
		}
		// The blur that usually accompanies hiding must not count twice.
		d.pending.Cancel()
		e.record(gen, types.ViolationTabSwitch, ev)
	}
	onBlur := func(ev *signals.Event) {
		if !e.live(gen) || e.source.Hidden() {
			return
		}
		d.pending.Schedule(e.opts.BlurGrace, func() {
			if e.source.Hidden() {
				return
			}
			e.record(gen, types.ViolationTabSwitch, nil)
		})
	}
	onFocus := func(ev *signals.Event) {
		d.pending.Cancel()
	}

	remove := unsubscribeAll(
		e.source.Subscribe(signals.KindVisibilityChange, onVisibility),
		e.source.Subscribe(signals.KindBlur, onBlur),
		e.source.Subscribe(signals.KindFocus, onFocus),
	)
	return func() {
		remove()
		d.pending.Cancel()
	}
}

// clipboardDetector reports COPY_ATTEMPT and PASTE_ATTEMPT. Pasting into an
// answer field or other input-bearing element is allowed.
type clipboardDetector struct{}

func (clipboardDetector) install(e *Engine, gen uint64) func() {
	return unsubscribeAll(
		e.source.Subscribe(signals.KindCopy, func(ev *signals.Event) {
			e.record(gen, types.ViolationCopyAttempt, ev)
		}),
		e.source.Subscribe(signals.KindPaste, func(ev *signals.Event) {
			if ev.Target.AcceptsInput() {
				return
			}
			e.record(gen, types.ViolationPasteAttempt, ev)
		}),
	)
}

type contextMenuDetector struct{}

func (contextMenuDetector) install(e *Engine, gen uint64) func() {
	return e.source.Subscribe(signals.KindContextMenu, func(ev *signals.Event) {
		e.record(gen, types.ViolationRightClick, ev)
	})
}

// devToolsDetector combines a polled viewport heuristic with keyboard
// shortcut matching.
// TECHNICAL DISCOVERY: The heuristic reports only the closed-to-open
// transition; an open panel seen on every poll would otherwise flood the
// transport with one violation per interval.
type devToolsDetector struct {
	mu   sync.Mutex
	open bool
	poll *clock.Slot
}

func (d *devToolsDetector) install(e *Engine, gen uint64) func() {
	d.poll = clock.NewSlot(e.opts.Clock)

	check := func() {
		open := viewportSuggestsDevTools(e.source.Viewport(), e.opts.DevToolsThreshold)
		d.mu.Lock()
		opened := open && !d.open
		d.open = open
		d.mu.Unlock()
		if opened {
			e.record(gen, types.ViolationDevTools, nil)
		}
	}

	var tick func()
	tick = func() {
		if !e.live(gen) {
			return
		}
		check()
		d.poll.Schedule(e.opts.DevToolsPollInterval, tick)
	}

	remove := unsubscribeAll(
		e.source.Subscribe(signals.KindResize, func(ev *signals.Event) { check() }),
		e.source.Subscribe(signals.KindKeyDown, func(ev *signals.Event) {
			if isDevToolsShortcut(ev) {
				e.record(gen, types.ViolationDevTools, ev)
			}
		}),
	)
	d.poll.Schedule(e.opts.DevToolsPollInterval, tick)

	return func() {
		remove()
		d.poll.Cancel()
	}
}

func viewportSuggestsDevTools(v signals.Viewport, threshold int) bool {
	if v.OuterWidth == 0 && v.OuterHeight == 0 {
		return false
	}
	return v.OuterWidth-v.InnerWidth > threshold || v.OuterHeight-v.InnerHeight > threshold
}

// isDevToolsShortcut matches the inspect, console, element picker and
// view-source shortcuts on every platform.
func isDevToolsShortcut(ev *signals.Event) bool {
	key := strings.ToUpper(ev.Key)
	if key == "F12" {
		return true
	}
	switch {
	case ev.Ctrl && ev.Shift && (key == "I" || key == "J" || key == "C"):
		return true
	case ev.Meta && ev.Alt && (key == "I" || key == "J" || key == "C" || key == "U"):
		return true
	case ev.Ctrl && !ev.Shift && !ev.Alt && key == "U":
		return true
	}
	return false
}

// fullscreenDetector reports FULL_SCREEN_EXIT on the active-to-inactive
// transition. Browsers fire several vendor-prefixed variants for a single
// exit; only the first one after an active state counts. The state is
// seeded from the source so an engine enabled during fullscreen still sees
// the next exit.
type fullscreenDetector struct {
	mu     sync.Mutex
	active bool
}

func (d *fullscreenDetector) install(e *Engine, gen uint64) func() {
	d.mu.Lock()
	d.active = e.source.Fullscreen()
	d.mu.Unlock()
	return e.source.Subscribe(signals.KindFullscreenChange, func(ev *signals.Event) {
		d.mu.Lock()
		exited := d.active && !ev.Fullscreen
		d.active = ev.Fullscreen
		d.mu.Unlock()
		if exited {
			e.record(gen, types.ViolationFullScreenExit, ev)
		}
	})
}
