// Command ragconsole is a terminal console for a retrieval-augmented chat
// backend: several chat sessions side by side, live summaries and the
// backend's runtime config.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragconsole/internal/backend"
	"ragconsole/internal/config"
	"ragconsole/internal/console"
	"ragconsole/internal/logging"
	"ragconsole/internal/runtimeconfig"
)

var version = "dev"

var (
	configPath string
	backendURL string
	sessions   int
	logFile    string
	logLevel   string
	altScreen  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ragconsole",
	Short: "Terminal console for a RAG chat backend",
	Long: `ragconsole talks to a retrieval-augmented chat backend over HTTP.

Run without a subcommand to open the console: several chat sessions side by
side, each with its own conversation id, draft and live summary, plus an
editor for the backend's runtime config.

Quick Start:
  ragconsole --backend-url http://127.0.0.1:8080
  ragconsole conversations --summaries
  ragconsole config set SEARCH_TOP_K=8
  ragconsole fake-backend --addr :8090`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &loaded)
		cfg = loaded.Normalize()
		if cmd != cmd.Root() {
			lc := logging.DefaultConfig()
			lc.Level = logging.ParseLevel(cfg.LogLevel)
			lc.Output = os.Stderr
			lc.Pretty = true
			logging.Init(lc)
		}
		logging.Debug().Str("command", cmd.Name()).Str("backend", cfg.BackendURL).Msg("config resolved")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole(cmd.Context(), cfg)
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default: user config dir/ragconsole/config.yaml)")
	flags.StringVar(&backendURL, "backend-url", "", "backend base URL")
	flags.StringVar(&logFile, "log-file", "", "log file used while the console runs")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, off")
	rootCmd.Flags().IntVar(&sessions, "sessions", 1, "sessions opened at startup (1-8)")
	rootCmd.Flags().BoolVar(&altScreen, "alt-screen", true, "use the terminal's alternate screen")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(conversationsCmd, historyCmd, configCmd, fakeBackendCmd)
}

// applyFlags overlays only the flags the user actually set.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend-url") {
		c.BackendURL = backendURL
	}
	if flags.Changed("log-file") {
		c.LogFile = logFile
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("sessions") {
		c.InitialSessions = sessions
	}
	if flags.Changed("alt-screen") {
		c.AltScreen = altScreen
	}
}

func newClient(c config.Config) *backend.Client {
	return backend.NewClient(
		c.BackendURL,
		backend.WithTimeout(c.RequestTimeout),
		backend.WithLogger(logging.Component("backend")),
	)
}

// setupFileLogging points the global logger at the log file; the terminal
// belongs to the console while it runs.
func setupFileLogging(c config.Config) (func(), error) {
	if c.LogFile == "" {
		return func() {}, nil
	}
	file, err := logging.OpenFile(c.LogFile)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.LogLevel)
	lc.Output = file
	logging.Init(lc)
	return func() { _ = file.Close() }, nil
}

func runConsole(ctx context.Context, c config.Config) error {
	closeLog, err := setupFileLogging(c)
	if err != nil {
		return err
	}
	defer closeLog()
	logging.Info().Str("backend", c.BackendURL).Int("sessions", c.InitialSessions).Msg("console starting")

	client := newClient(c)
	registry := console.NewRegistry(client, c.Timings, console.WithLogger(logging.Component("console")))
	defer registry.Close()

	configEvents := make(chan struct{}, 1)
	applier := runtimeconfig.NewApplier(
		client,
		c.Timings.ConfigDebounce,
		runtimeconfig.WithLogger(logging.Component("runtimeconfig")),
		runtimeconfig.WithRequestTimeout(c.RequestTimeout),
		runtimeconfig.WithNotify(func() {
			select {
			case configEvents <- struct{}{}:
			default:
			}
		}),
	)
	defer applier.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sessionEvents, err := registry.Events().Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to session events: %w", err)
	}
	for i := 0; i < c.InitialSessions; i++ {
		registry.AddSession()
	}

	m := newModel(consoleDeps{
		cfg:           c,
		client:        client,
		registry:      registry,
		applier:       applier,
		sessionEvents: sessionEvents,
		configEvents:  configEvents,
	})
	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if c.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		logging.Error().Err(err).Msg("console exited")
		return fmt.Errorf("console: %w", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := applier.Flush(flushCtx); err != nil {
		logging.Warn().Err(err).Msg("runtime config not saved on exit")
	}
	logging.Info().Msg("console stopped")
	return nil
}

func main() {
	Execute()
}
