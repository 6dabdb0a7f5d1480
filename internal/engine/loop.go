// Package engine runs the capture/detect/dispatch cadence and is the
// single serialized dispatch point for commands, whether they come from
// detection or from hotkeys.
package engine

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/m1ndfucker/autotracker/internal/detect"
	"github.com/m1ndfucker/autotracker/internal/hotkey"
	"github.com/m1ndfucker/autotracker/internal/tracker"
)

// DefaultFPS is the tick cadence when the configured one is unsupported.
const DefaultFPS = 10

var allowedFPS = []int{5, 10, 15, 20, 30}

// NormalizeFPS snaps a configured rate onto the supported set.
func NormalizeFPS(fps int) int {
	for _, allowed := range allowedFPS {
		if fps == allowed {
			return fps
		}
	}
	return DefaultFPS
}

// FrameSource supplies one frame per tick; nil means the capture source
// is momentarily unavailable and the tick is skipped.
type FrameSource interface {
	Grab() image.Image
}

// Gate decides whether a tick's frame constitutes a death event.
type Gate interface {
	Evaluate(frame image.Image, now time.Time) *detect.Event
}

// Dispatcher accepts outbound commands. Satisfied by *tracker.Client.
type Dispatcher interface {
	Dispatch(cmd tracker.Command) bool
}

// Loop ties FrameSource -> Gate -> Dispatcher on a fixed cadence, and
// executes queued hotkey actions between ticks.
type Loop struct {
	src      FrameSource
	gate     Gate
	sink     Dispatcher
	actions  <-chan hotkey.Action
	interval time.Duration
}

// NewLoop builds the engine loop. actions may be nil when no hotkeys
// are wired.
func NewLoop(src FrameSource, gate Gate, sink Dispatcher, actions <-chan hotkey.Action, fps int) *Loop {
	fps = NormalizeFPS(fps)
	return &Loop{
		src:      src,
		gate:     gate,
		sink:     sink,
		actions:  actions,
		interval: time.Second / time.Duration(fps),
	}
}

// Run drives ticks until the context is cancelled. A tick that overruns
// the interval is logged and the loop proceeds to the next tick; the
// ticker drops missed ticks rather than bunching them up, so the loop
// never sleeps negatively or busy-spins.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("engine loop started", "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine loop stopped")
			return
		case act := <-l.actions:
			act()
		case <-ticker.C:
			start := time.Now()
			l.tick(start)
			if took := time.Since(start); took > l.interval {
				slog.Warn("tick overran interval", "took", took, "interval", l.interval)
			}
		}
	}
}

// tick is the one place detection output turns into a protocol action.
func (l *Loop) tick(now time.Time) {
	frame := l.src.Grab()
	if frame == nil {
		return
	}

	ev := l.gate.Evaluate(frame, now)
	if ev == nil {
		return
	}

	cmd := tracker.Command{Type: tracker.CmdDeath}
	if ev.Boss {
		cmd.Type = tracker.CmdBossDeath
	}
	slog.Info("death detected", "boss", ev.Boss, "confidence", ev.Confidence)
	if !l.sink.Dispatch(cmd) {
		slog.Debug("death command dropped", "type", cmd.Type)
	}
}
