package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Josue-Herrera/Jaxie/internal/app"
	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/Josue-Herrera/Jaxie/internal/config"
	"github.com/Josue-Herrera/Jaxie/internal/inference"
	"github.com/Josue-Herrera/Jaxie/internal/logging"
	"github.com/Josue-Herrera/Jaxie/internal/permissions"
)

func newCaptureCmd(opts *rootOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture audio until interrupted",
		Long: `Capture audio from the configured backend until SIGINT/SIGTERM or until
--duration elapses. Periods go to the streaming model when model paths are
configured and the runtime is available, otherwise to a level meter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runCapture(cmd.Context(), cfg, duration)
		},
	}

	addCaptureFlags(cmd)
	cmd.Flags().Float64("tone", 0, "synthetic backend tone frequency in Hz")
	cmd.Flags().String("encoder", "", "encoder model path")
	cmd.Flags().String("predictor", "", "predictor model path")
	cmd.Flags().String("joint", "", "joint model path")
	cmd.Flags().StringSlice("ep", nil, "execution provider preference, repeatable: TensorRT, CUDA, CPU")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func runCapture(ctx context.Context, cfg *config.Config, duration time.Duration) error {
	log, closer, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	// macOS requires explicit microphone approval before capture works
	if permissions.RequiresMicrophone(cfg.Audio.Backend) {
		if err := permissions.EnsureMicrophone(); err != nil {
			log.Error().Err(err).Msg("Required permissions not granted")
			return err
		}
	}

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	engine, err := loadEngine(cfg, log)
	if err != nil {
		return err
	}
	if engine != nil {
		defer engine.Close()
	}

	application := app.New(app.Config{
		Backend: backend,
		Engine:  engine,
		Config:  cfg,
		Logger:  log,
	})

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	log.Info().Str("version", Version).Str("commit", Commit).Msg("Jaxie starting...")
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Capture failed")
		return err
	}
	log.Info().Msg("Shutting down...")
	return nil
}

func newBackend(cfg *config.Config, log zerolog.Logger) (audio.Backend, error) {
	return audio.NewBackend(cfg.Audio.Backend, audio.BackendOptions{
		DeviceID: cfg.Audio.DeviceID,
		Logger:   log,
		Synthetic: audio.SyntheticOptions{
			FrequencyHz: cfg.Audio.ToneHz,
		},
	})
}

// loadEngine returns nil when no model is configured or the runtime is not
// built in; capture then falls back to the level meter.
func loadEngine(cfg *config.Config, log zerolog.Logger) (inference.Engine, error) {
	if cfg.Model.ModelPaths.IsZero() {
		return nil, nil
	}

	paths := cfg.ModelPaths()
	if err := paths.Check(); err != nil {
		return nil, fmt.Errorf("invalid model paths: %w", err)
	}
	providers, err := inference.ParseProviders(cfg.Model.Providers)
	if err != nil {
		return nil, err
	}

	engine := inference.NewNull()
	if err := engine.Load(paths, providers); err != nil {
		log.Warn().Err(err).Msg("Model unavailable, falling back to level meter")
		engine.Close()
		return nil, nil
	}
	log.Info().Str("encoder", paths.Encoder).Msg("Model loaded")
	return engine, nil
}
