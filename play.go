// ABOUTME: The play command: loads a track and plays it with TUI or streaming logs
// ABOUTME: Wires config, transport, output device, player, relay and UI together
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/internal/config"
	"github.com/Resonate-Protocol/chunkplay/internal/relay"
	"github.com/Resonate-Protocol/chunkplay/internal/ui"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/output"
	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

type playFlags struct {
	mode       string
	preset     string
	volume     int
	start      float64
	nullOutput bool
	noTUI      bool
	relayAddr  string
}

func newPlayCmd(global *globalFlags) *cobra.Command {
	flags := &playFlags{}

	cmd := &cobra.Command{
		Use:   "play <track-id>",
		Short: "Play a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, global, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.mode, "mode", "", "Delivery mode: chunked or enhanced")
	f.StringVar(&flags.preset, "preset", "", "Enhancement preset")
	f.IntVar(&flags.volume, "volume", 100, "Initial volume (0-100)")
	f.Float64Var(&flags.start, "start", 0, "Start position in seconds")
	f.BoolVar(&flags.nullOutput, "null-output", false, "Play silently on a clock-driven device")
	f.BoolVar(&flags.noTUI, "no-tui", false, "Disable TUI, use streaming logs instead")
	f.StringVar(&flags.relayAddr, "relay-addr", "", "Serve the websocket relay on this address")
	return cmd
}

func runPlay(cmd *cobra.Command, global *globalFlags, flags *playFlags, trackID string) error {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Playback.Mode = flags.mode
	}
	if f.Changed("preset") {
		cfg.Playback.Preset = flags.preset
	}
	if f.Changed("volume") {
		cfg.Playback.Volume = flags.volume
	}
	if flags.nullOutput {
		cfg.Output.Backend = "null"
	}
	if f.Changed("relay-addr") {
		cfg.Relay.Addr = flags.relayAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	useTUI := !flags.noTUI

	var console io.Writer
	if !useTUI {
		console = os.Stderr
	}
	logger, closeLog, err := newLogger(cfg, console)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverURL, err := resolveServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	source, err := newSource(serverURL)
	if err != nil {
		return err
	}

	var device output.Device
	if cfg.Output.Backend == "null" {
		device = output.NewVirtual(nil)
	} else {
		device = output.NewOto()
	}
	defer device.Close()

	pcfg := cfg.PlayerConfig()
	pcfg.Logger = logger
	player, err := chunkplay.NewPlayer(pcfg, source, device)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	defer func() {
		if err := player.Cleanup(); err != nil {
			logger.Warn("player cleanup failed", zap.Error(err))
		}
	}()
	if err := player.SetVolume(cfg.Playback.Volume); err != nil {
		return err
	}

	if cfg.Relay.Addr != "" {
		rs := relay.New(relay.Config{Addr: cfg.Relay.Addr, Logger: logger.Named("relay")}, player)
		go func() {
			if err := rs.ListenAndServe(); err != nil {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
		defer rs.Close()
	}

	if path := existingConfigPath(global); path != "" {
		watcher, err := config.NewWatcher(path, logger.Named("config"))
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx, reloadApplier(ctx, player, cfg, logger))
		}
	}

	ended := make(chan struct{}, 1)
	player.On(chunkplay.EventEnded, func(chunkplay.Event) {
		select {
		case ended <- struct{}{}:
		default:
		}
	})

	var prog *tea.Program
	var control *ui.Control
	if useTUI {
		control = ui.NewControl()
		prog = ui.Run(control, cfg.Playback.Presets)
		go func() {
			if _, err := prog.Run(); err != nil {
				logger.Error("tui stopped", zap.Error(err))
			}
		}()
		defer prog.Quit()

		prog.Send(ui.StatusMsg{ServerURL: serverURL})
		player.On(chunkplay.EventError, func(e chunkplay.Event) {
			prog.Send(ui.StatusMsg{Err: e.Err})
		})
		player.On(chunkplay.EventStateChange, func(e chunkplay.Event) {
			if e.New == chunkplay.Playing {
				prog.Send(ui.StatusMsg{ClearErr: true})
			}
		})
		go handleControl(ctx, player, control, logger)
		go statusLoop(ctx, player, prog)
	} else {
		logEvents(player, logger)
	}

	logger.Info("loading track",
		zap.String("track", trackID),
		zap.String("server", serverURL),
		zap.String("mode", cfg.Playback.Mode))
	if err := player.LoadTrack(ctx, trackID); err != nil {
		return fmt.Errorf("failed to load %s: %w", trackID, err)
	}
	if flags.start > 0 {
		if err := player.Seek(flags.start); err != nil {
			return err
		}
	}
	if err := player.Play(); err != nil {
		return err
	}

	// The TUI stays up after the track ends so the user can seek back
	var quit <-chan struct{}
	if control != nil {
		quit = control.Quit
	}
	for {
		select {
		case <-quit:
			logger.Info("quit requested from TUI")
			return nil
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-ended:
			if !useTUI {
				return nil
			}
		}
	}
}

// handleControl applies commands from the TUI to the player
func handleControl(ctx context.Context, player *chunkplay.Player, control *ui.Control, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-control.Commands:
			var err error
			switch cmd.Kind {
			case ui.CommandPlay:
				err = player.Play()
			case ui.CommandPause:
				err = player.Pause()
			case ui.CommandSeek:
				err = player.Seek(cmd.Position)
			case ui.CommandVolume:
				err = player.SetVolume(cmd.Volume)
			case ui.CommandMode:
				err = player.SetMode(ctx, cmd.Mode, cmd.Preset)
			case ui.CommandPreset:
				err = player.SetPreset(ctx, cmd.Preset)
			}
			var switchErr *chunkplay.ModeSwitchError
			switch {
			case err == nil:
			case errors.As(err, &switchErr):
				logger.Warn("mode switch rolled back",
					zap.String("from", string(switchErr.From)),
					zap.String("to", string(switchErr.To)),
					zap.Error(switchErr.Cause))
			default:
				logger.Warn("command failed", zap.Int("kind", int(cmd.Kind)), zap.Error(err))
			}
		}
	}
}

// reloadApplier returns a callback applying volume and preset edits from a reloaded config.
// Settings that would need a new player are left until the next run.
func reloadApplier(ctx context.Context, player *chunkplay.Player, current *config.Config, logger *zap.Logger) func(*config.Config) {
	volume := current.Playback.Volume
	preset := current.Playback.Preset

	return func(next *config.Config) {
		if next.Playback.Volume != volume {
			volume = next.Playback.Volume
			if err := player.SetVolume(volume); err != nil {
				logger.Warn("reload volume failed", zap.Error(err))
			}
		}
		if next.Playback.Preset != preset {
			preset = next.Playback.Preset
			if player.Status().Mode == chunkplay.ModeEnhanced {
				if err := player.SetPreset(ctx, preset); err != nil {
					logger.Warn("reload preset failed", zap.Error(err))
				}
			}
		}
	}
}

// statusLoop periodically pushes player status into the TUI
func statusLoop(ctx context.Context, player *chunkplay.Player, prog *tea.Program) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := player.Status()
			tiers := make(map[string]int)
			for _, c := range player.Chunks() {
				if c.SourceTier != "" {
					tiers[c.SourceTier]++
				}
			}
			prog.Send(ui.StatusMsg{Status: &st, Tiers: tiers})
		}
	}
}

// logEvents streams player events to the logger when the TUI is off
func logEvents(player *chunkplay.Player, logger *zap.Logger) {
	player.On(chunkplay.EventStateChange, func(e chunkplay.Event) {
		logger.Info("state", zap.Stringer("from", e.Old), zap.Stringer("to", e.New))
	})
	player.On(chunkplay.EventError, func(e chunkplay.Event) {
		logger.Warn("playback error", zap.Error(e.Err))
	})
	player.On(chunkplay.EventModeSwitched, func(e chunkplay.Event) {
		logger.Info("mode switched", zap.String("mode", string(e.Mode)), zap.String("preset", e.Preset))
	})
	player.On(chunkplay.EventPresetSwitched, func(e chunkplay.Event) {
		logger.Info("preset switched", zap.String("preset", e.Preset))
	})
	player.On(chunkplay.EventEnded, func(chunkplay.Event) {
		logger.Info("track ended")
	})

	var last int
	player.On(chunkplay.EventTimeUpdate, func(e chunkplay.Event) {
		if sec := int(e.CurrentTime); sec/10 != last/10 {
			last = sec
			logger.Debug("position", zap.Float64("time", e.CurrentTime), zap.Float64("duration", e.Duration))
		}
	})
}
