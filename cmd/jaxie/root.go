package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Josue-Herrera/Jaxie/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "jaxie",
		Short: "Low-latency audio capture agent",
		Long: `Jaxie captures live audio from an input device and hands fixed-size
periods to a streaming speech model, or to a level meter when no model
is configured.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("config file (default is %s)", config.ConfigFile()))
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newCaptureCmd(opts),
		newDevicesCmd(opts),
		newModelCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration with the command's flags applied on top.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// addCaptureFlags registers the flags that override the audio section.
func addCaptureFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", "", "capture backend: portaudio, miniaudio, synthetic, null")
	f.String("device", "", "input device name or id (default: system default)")
	f.Int("rate", 0, "sample rate in Hz")
	f.Int("channels", 0, "channel count")
	f.Int("period-frames", 0, "frames per delivered period")
	f.Int("period-count", 0, "device buffer depth in periods")
}
