package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath   string
	instanceRoot string
	policy       string
	verbose      bool
	logJSON      bool

	// env overlays the persistent flags with KOAN_* variables
	env = viper.New()

	rootCmd = &cobra.Command{
		Use:   "koan",
		Short: "koan - budget-aware autonomous coding loop",
		Long: `koan drives an AI coding assistant in a long-running loop.
It picks the next mission from missions.md, sizes the work to the usage
budget left in the current session and week, and pauses itself when the
assistant reports that its quota is exhausted.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (env KOAN_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&instanceRoot, "instance", "", "instance root directory (env KOAN_INSTANCE)")
	rootCmd.PersistentFlags().StringVar(&policy, "policy", "", "budget policy: full, session_only or disabled (env KOAN_POLICY)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON lines")

	env.SetEnvPrefix("KOAN")
	env.AutomaticEnv()
	for _, name := range []string{"config", "instance", "policy"} {
		_ = env.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	_ = env.BindEnv("slack_webhook")
}

func setupLogging() {
	slog.SetDefault(newLogger(os.Stderr, verbose, logJSON))
}

func newLogger(w io.Writer, debug, jsonLines bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if jsonLines {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
