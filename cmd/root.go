package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/passport/internal/config"
	"github.com/andresmejia3/passport/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Cfg is the merged configuration shared by subcommands
	Cfg *config.Config
	// Log is the process logger, built from Cfg.Log
	Log = zerolog.Nop()

	configPath string
)

// Version is the application version.
const Version = "0.1.0"

// flagKeys maps config keys to the flag names that override them. A
// command only binds the flags it actually defines.
var flagKeys = map[string]string{
	"log.level":            "log-level",
	"log.json":             "log-json",
	"output.dir":           "output-dir",
	"output.preset":        "preset",
	"output.format":        "format",
	"output.quality":       "quality",
	"output.background":    "background",
	"toggles.face_crop":    "face-crop",
	"toggles.bg_remove":    "bg-remove",
	"toggles.auto_center":  "auto-center",
	"toggles.eye_guides":   "eye-guides",
	"toggles.red_eye":      "red-eye",
	"toggles.lighting":     "lighting",
	"engines":              "engines",
	"max_canvas_pixels":    "max-canvas-pixels",
	"detector.backend":     "detector",
	"detector.cascade_dir": "cascade-dir",
	"detector.model_path":  "yunet-model",
	"detector.min_size":    "min-face",
	"segmenter.backend":    "segmenter",
	"worker.python":        "python",
	"worker.script":        "worker-script",
}

var rootCmd = &cobra.Command{
	Use:     "passport",
	Short:   "Passport & ID photo normalizer",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := make(map[string]*pflag.Flag, len(flagKeys))
		for key, name := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				flags[key] = f
			}
		}

		var err error
		Cfg, err = config.Load(configPath, flags)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		Log, err = logger.New(os.Stderr, Cfg.Log.Level, Cfg.Log.JSON)
		if err != nil {
			return err
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML/TOML/JSON config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON lines")
}
