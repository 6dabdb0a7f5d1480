package hotkey

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// GlobalSource feeds OS-level keyboard events through gohook. The hook
// runs on its own thread; this adapter only normalizes events and
// forwards them, it never blocks on downstream work.
type GlobalSource struct {
	events chan KeyEvent
	once   sync.Once
}

// NewGlobalSource installs the OS keyboard hook and starts forwarding.
func NewGlobalSource() *GlobalSource {
	s := &GlobalSource{events: make(chan KeyEvent, 64)}
	go s.run()
	return s
}

func (s *GlobalSource) run() {
	defer close(s.events)

	for ev := range hook.Start() {
		var pressed bool
		switch ev.Kind {
		case hook.KeyDown, hook.KeyHold:
			pressed = true
		case hook.KeyUp:
			pressed = false
		default:
			continue
		}

		key := hook.RawcodetoKeychar(ev.Rawcode)
		if key == "" {
			continue
		}
		select {
		case s.events <- KeyEvent{Key: key, Pressed: pressed}:
		default:
			// Listener thread must never stall; a full queue loses the
			// event rather than blocking inside the OS callback.
			slog.Debug("dropping key event, queue full", "key", key)
		}
	}
}

// Events returns the normalized key event stream.
func (s *GlobalSource) Events() <-chan KeyEvent {
	return s.events
}

// Close uninstalls the hook. Idempotent.
func (s *GlobalSource) Close() {
	s.once.Do(hook.End)
}
