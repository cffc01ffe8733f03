package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List input devices of a capture backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			backend, err := newBackend(cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			lister, ok := backend.(audio.DeviceLister)
			if !ok {
				return fmt.Errorf("backend %s cannot list devices", backend.Name())
			}
			devices, err := lister.Devices()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintf(out, "No input devices found for backend %s\n", backend.Name())
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEFAULT\tNAME\tCHANNELS\tID")
			for _, d := range devices {
				mark := ""
				if d.Default {
					mark = "*"
				}
				channels := "-"
				if d.Channels > 0 {
					channels = fmt.Sprint(d.Channels)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, d.Name, channels, d.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("backend", "", "capture backend: portaudio, miniaudio, synthetic, null")
	return cmd
}
