// ABOUTME: The info and discover commands
// ABOUTME: Print track layouts and chunk servers found on the local network
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/chunkplay/internal/discovery"
	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
)

func newInfoCmd(global *globalFlags) *cobra.Command {
	var mode, preset string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <track-id>",
		Short: "Show a track's chunk layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("mode") {
				mode = cfg.Playback.Mode
			}
			if _, err := chunkplay.ParseMode(mode); err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			serverURL, err := resolveServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			source, err := newSource(serverURL)
			if err != nil {
				return err
			}

			meta, err := source.FetchMetadata(ctx, args[0], mode, preset)
			if err != nil {
				return fmt.Errorf("failed to fetch metadata: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(meta)
			}

			fmt.Fprintf(out, "Track:    %s (%s)\n", args[0], mode)
			fmt.Fprintf(out, "Server:   %s\n", serverURL)
			fmt.Fprintf(out, "Duration: %.2fs\n", meta.Duration)
			fmt.Fprintf(out, "Format:   %s\n", meta.Format)
			if mode == string(chunkplay.ModeChunked) {
				t, err := track.New(args[0], meta)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Chunks:   %d x %.2fs every %.2fs (overlap %.2fs)\n",
					t.TotalChunks, t.ChunkDurationSeconds, t.ChunkIntervalSeconds,
					t.ChunkDurationSeconds-t.ChunkIntervalSeconds)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Delivery mode: chunked or enhanced")
	cmd.Flags().StringVar(&preset, "preset", "", "Enhancement preset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw metadata as JSON")
	return cmd
}

func newDiscoverCmd(global *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List chunk servers advertised over mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.DiscoveryTimeout()
			}

			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			mgr := discovery.NewManager(discovery.Config{Timeout: timeout, Logger: logger})
			servers, err := mgr.Browse(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(servers) == 0 {
				fmt.Fprintln(out, "No chunk servers found")
				return nil
			}
			for _, s := range servers {
				fmt.Fprintf(out, "%-30s %s\n", s.Name, s.URL())
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to browse")
	return cmd
}
