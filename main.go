// ABOUTME: Entry point for the chunkplay CLI
// ABOUTME: Builds the cobra command tree and exits non-zero on failure
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/chunkplay/internal/version"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	envFile    string
	server     string
	logLevel   string
	logFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "chunkplay",
		Short:         "Play chunked and enhanced audio tracks from a chunk server",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: user config dir/chunkplay/config.toml)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before the config")
	pf.StringVar(&flags.server, "server", "", "Chunk server base URL (skip mDNS discovery)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.logFile, "log-file", "", "Rotating log file path")

	root.AddCommand(
		newPlayCmd(flags),
		newInfoCmd(flags),
		newDiscoverCmd(flags),
	)
	return root
}
