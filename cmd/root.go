package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/nbq/internal/config"
	"github.com/zhubert/nbq/internal/logger"
	"github.com/zhubert/nbq/internal/session"
	"github.com/zhubert/nbq/internal/ui"
)

var (
	debugMode             bool
	quietMode             bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "nbq",
	Short: "Durable single-worker queue for Jupyter notebooks",
	Long: `nbq queues notebooks and percent-format scripts and runs them one at a
time, in the order they were added, through papermill.

Queued files are snapshotted, so editing the original after "nbq add" does not
change what runs. Queue state survives crashes and can be inspected or steered
from any terminal while a worker is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		p.Banner(versionLine())
		return cmd.Help()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", true, "Enable debug logging (on by default)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")
}

func initConfig() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	// Set version dynamically
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("nbq %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("nbq %s\n", version)
}

func versionLine() string {
	return "nbq " + version
}

// setup loads the configuration, points the debug log at the base directory
// and returns the session manager every command works through.
func setup() (*config.Config, *session.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if err := logger.Init(cfg.LogPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return cfg, session.NewManager(cfg.BaseDir), nil
}
