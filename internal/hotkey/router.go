// Package hotkey maps global key combinations to engine actions. The OS
// listener runs on its own thread; matched actions are handed off
// through a queue and executed by the engine's dispatch loop, never in
// the listener's context.
package hotkey

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// KeyEvent is one normalized key transition from a Source.
type KeyEvent struct {
	Key     string
	Pressed bool
}

// Source supplies a stream of key events. Implementations own the OS
// hook; Close stops the stream.
type Source interface {
	Events() <-chan KeyEvent
	Close()
}

// Action is a bound hotkey handler. It runs on the dispatch consumer,
// not on the listener thread.
type Action func()

// aliases folds platform modifier variants onto one canonical name, so
// "cmd+shift+d" and "ctrl+shift+d" bind the same chord.
var aliases = map[string]string{
	"cmd":     "ctrl",
	"command": "ctrl",
	"meta":    "ctrl",
	"control": "ctrl",
	"lctrl":   "ctrl",
	"rctrl":   "ctrl",
	"lshift":  "shift",
	"rshift":  "shift",
	"lalt":    "alt",
	"ralt":    "alt",
	"option":  "alt",
}

// Normalize canonicalizes a single key identifier.
func Normalize(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := aliases[k]; ok {
		return canonical
	}
	return k
}

// chordID builds the canonical identity of a key set: normalized,
// deduplicated, sorted, joined. Set equality becomes string equality.
func chordID(keys []string) string {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		n := Normalize(k)
		if n != "" {
			seen[n] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for k := range seen {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return strings.Join(ids, "+")
}

// ParseChord splits a "ctrl+shift+d" style spec into its keys.
func ParseChord(spec string) []string {
	parts := strings.Split(spec, "+")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			keys = append(keys, t)
		}
	}
	return keys
}

// Router matches the currently-held key set against registered chords.
type Router struct {
	queue chan<- Action

	mu       sync.Mutex
	bindings map[string]Action
	held     map[string]struct{}
}

// NewRouter creates a router that hands matched actions to queue.
func NewRouter(queue chan<- Action) *Router {
	return &Router{
		queue:    queue,
		bindings: make(map[string]Action),
		held:     make(map[string]struct{}),
	}
}

// Bind registers a chord spec. Binding an already-registered chord
// replaces the previous action.
func (r *Router) Bind(spec string, action Action) {
	id := chordID(ParseChord(spec))
	if id == "" {
		slog.Warn("ignoring empty hotkey binding", "spec", spec)
		return
	}
	r.mu.Lock()
	r.bindings[id] = action
	r.mu.Unlock()
	slog.Debug("hotkey bound", "chord", id)
}

// Unbind removes a chord. Unknown chords are ignored.
func (r *Router) Unbind(spec string) {
	id := chordID(ParseChord(spec))
	r.mu.Lock()
	delete(r.bindings, id)
	r.mu.Unlock()
}

// Handle feeds one key event through the chord matcher. A press that
// completes a bound chord enqueues its action; the held set itself is
// matched by set equality, so partial or superset chords do nothing.
func (r *Router) Handle(ev KeyEvent) {
	key := Normalize(ev.Key)
	if key == "" {
		return
	}

	r.mu.Lock()
	if !ev.Pressed {
		delete(r.held, key)
		r.mu.Unlock()
		return
	}
	r.held[key] = struct{}{}
	ids := make([]string, 0, len(r.held))
	for k := range r.held {
		ids = append(ids, k)
	}
	action, bound := r.bindings[chordID(ids)]
	r.mu.Unlock()

	if !bound {
		return
	}
	select {
	case r.queue <- action:
	default:
		slog.Warn("hotkey action queue full, dropping")
	}
}

// Run consumes a source until it closes or stop is closed.
func (r *Router) Run(src Source, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			r.Handle(ev)
		}
	}
}
