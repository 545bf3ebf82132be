// Package signals models the browser-level events the violation engine
// observes. A browser bridge (or a test) publishes events on a Bus; detectors
// subscribe per kind and may suppress the default browser action.
package signals

import (
	"strings"
	"sync"
)

// Kind identifies a browser event type.
type Kind string

const (
	KindVisibilityChange Kind = "visibilitychange"
	KindBlur             Kind = "blur"
	KindFocus            Kind = "focus"
	KindCopy             Kind = "copy"
	KindPaste            Kind = "paste"
	KindContextMenu      Kind = "contextmenu"
	KindKeyDown          Kind = "keydown"
	KindResize           Kind = "resize"
	KindFullscreenChange Kind = "fullscreenchange"
)

// Fullscreen change variants a browser may fire for one transition.
var FullscreenVariants = []string{
	"fullscreenchange",
	"webkitfullscreenchange",
	"mozfullscreenchange",
	"MSFullscreenChange",
}

// Target describes the element an event was dispatched to.
type Target struct {
	Tag         string `json:"tag"`
	Editable    bool   `json:"editable"`
	AnswerField bool   `json:"answer_field"`
}

// AcceptsInput reports whether the target is an input-bearing element.
func (t Target) AcceptsInput() bool {
	if t.AnswerField || t.Editable {
		return true
	}
	switch strings.ToLower(t.Tag) {
	case "input", "textarea":
		return true
	}
	return false
}

// Viewport carries window and viewport dimensions in CSS pixels.
type Viewport struct {
	OuterWidth  int `json:"outer_width"`
	OuterHeight int `json:"outer_height"`
	InnerWidth  int `json:"inner_width"`
	InnerHeight int `json:"inner_height"`
}

// Event is one browser event.
type Event struct {
	Kind       Kind     `json:"kind"`
	Hidden     bool     `json:"hidden,omitempty"`
	Target     Target   `json:"target"`
	Key        string   `json:"key,omitempty"`
	Ctrl       bool     `json:"ctrl,omitempty"`
	Shift      bool     `json:"shift,omitempty"`
	Alt        bool     `json:"alt,omitempty"`
	Meta       bool     `json:"meta,omitempty"`
	Viewport   Viewport `json:"viewport"`
	Fullscreen bool     `json:"fullscreen,omitempty"`
	Variant    string   `json:"variant,omitempty"`

	mu        sync.Mutex
	prevented bool
}

// PreventDefault suppresses the browser's default action for the event.
func (e *Event) PreventDefault() {
	e.mu.Lock()
	e.prevented = true
	e.mu.Unlock()
}

// DefaultPrevented reports whether any handler suppressed the event.
func (e *Event) DefaultPrevented() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prevented
}

// Handler receives events of one kind.
type Handler func(e *Event)

// Source is what detectors subscribe to.
type Source interface {
	// Subscribe registers fn for events of kind and returns a function
	// that removes it.
	Subscribe(kind Kind, fn Handler) (unsubscribe func())

	// Viewport returns the current window and viewport dimensions.
	Viewport() Viewport

	// Hidden reports whether the document is currently hidden.
	Hidden() bool

	// Fullscreen reports whether the document is currently fullscreen.
	Fullscreen() bool
}
