// Autotracker - watches the screen for death banners and syncs counters
// to a shared tracking server over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/m1ndfucker/autotracker/internal/config"
	"github.com/m1ndfucker/autotracker/internal/detect"
	"github.com/m1ndfucker/autotracker/internal/engine"
	"github.com/m1ndfucker/autotracker/internal/hotkey"
	"github.com/m1ndfucker/autotracker/internal/match"
	"github.com/m1ndfucker/autotracker/internal/profile"
	"github.com/m1ndfucker/autotracker/internal/resilience"
	"github.com/m1ndfucker/autotracker/internal/screen"
	"github.com/m1ndfucker/autotracker/internal/state"
	"github.com/m1ndfucker/autotracker/internal/tracker"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		configPath = flag.String("config", "", "config file path (default ~/.autotracker/config.json)")
		newProfile = flag.Bool("new-profile", false, "register the configured profile with the server before starting")
	)
	flag.Parse()

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			slog.Error("cannot resolve config path", "error", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	if cfg.ProfileName() == "" {
		slog.Error("no profile configured", "path", path, "hint", "set profile.name in the config file")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *newProfile {
		slog.Info("registering profile", "name", cfg.ProfileName())
		if err := profile.New(cfg.APIURL()).Create(ctx, cfg.ProfileName(), cfg.ProfilePassword()); err != nil {
			slog.Error("profile registration failed", "error", err)
			os.Exit(1)
		}
		slog.Info("profile registered", "name", cfg.ProfileName())
	}

	store := state.New()
	store.SetErrorHook(func(key state.Key, value, recovered any) {
		slog.Error("state listener panicked", "key", key, "value", value, "panic", recovered)
	})
	if err := store.Set(state.KeyDetectionEnabled, cfg.DetectionEnabled()); err != nil {
		slog.Error("bad detection default", "error", err)
		os.Exit(1)
	}

	source := screen.New()
	if x, y, w, h, ok := cfg.Region(); ok {
		source = screen.WithRegion(source, x, y, w, h)
		slog.Info("capture region configured", "x", x, "y", y, "w", w, "h", h)
	}

	var tpl *match.Template
	if p := cfg.TemplatePath(); p != "" {
		tpl, err = match.LoadTemplate(p)
		if err != nil {
			slog.Warn("death template unavailable, automatic detection disabled", "path", p, "error", err)
		}
	} else {
		slog.Warn("no death template configured, automatic detection disabled")
	}
	matcher := match.NewMatcher(tpl, cfg.Threshold())
	memo := match.NewMemo(matcher, match.MaxHashDistance)

	gate := detect.NewGate(memo, store, detect.NormalizeCooldown(cfg.Cooldown()))

	client, err := tracker.New(tracker.Config{
		ServerURL: cfg.ServerURL(),
		Profile:   cfg.ProfileName(),
		Password:  cfg.ProfilePassword(),
		Store:     store,
		Backoff:   resilience.DefaultBackoff(),
		OnDisconnect: func() {
			memo.Invalidate()
		},
	})
	if err != nil {
		slog.Error("invalid server configuration", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := client.Run(ctx); err != nil {
			slog.Error("sync client stopped", "error", err)
		}
	}()

	actions := make(chan hotkey.Action, 16)
	router := hotkey.NewRouter(actions)
	bindHotkeys(router, cfg, store, client, func() {
		slog.Info("display toggle requested")
	})

	keys := hotkey.NewGlobalSource()
	stopKeys := make(chan struct{})
	go router.Run(keys, stopKeys)

	loop := engine.NewLoop(source, gate, client, actions, engine.NormalizeFPS(cfg.FPS()))
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	slog.Info("autotracker running",
		"profile", cfg.ProfileName(),
		"server", cfg.ServerURL(),
		"fps", engine.NormalizeFPS(cfg.FPS()),
		"detection", cfg.DetectionEnabled())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	keys.Close()
	close(stopKeys)
	cancel()
	<-loopDone
	client.Close()
	source.Close()
	slog.Info("shutdown complete")
}

// bindHotkeys registers the configured chords. Actions run on the engine
// loop goroutine, never on the key listener.
func bindHotkeys(r *hotkey.Router, cfg *config.Config, store *state.Store, client *tracker.Client, onDisplayToggle func()) {
	bind := func(name string, action hotkey.Action) {
		spec := cfg.Hotkey(name)
		if spec == "" {
			return
		}
		r.Bind(spec, action)
	}

	bind("manual_death", func() {
		cmd := tracker.Command{Type: tracker.CmdDeath}
		if store.Snapshot().BossMode {
			cmd.Type = tracker.CmdBossDeath
		}
		if !client.Dispatch(cmd) {
			slog.Warn("manual death dropped", "reason", "not authenticated")
		}
	})

	bind("toggle_boss", func() {
		cmd := tracker.Command{Type: tracker.CmdBossStart}
		if store.Snapshot().BossMode {
			cmd.Type = tracker.CmdBossCancel
		}
		if !client.Dispatch(cmd) {
			slog.Warn("boss toggle dropped", "reason", "not authenticated")
		}
	})

	bind("toggle_detection", func() {
		enabled := store.Snapshot().DetectionEnabled
		if err := store.Set(state.KeyDetectionEnabled, !enabled); err != nil {
			slog.Error("detection toggle failed", "error", err)
			return
		}
		slog.Info("detection toggled", "enabled", !enabled)
	})

	bind("toggle_display", onDisplayToggle)
}
