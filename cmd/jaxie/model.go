package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Josue-Herrera/Jaxie/internal/inference"
)

func newModelCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the streaming speech model",
	}
	cmd.AddCommand(newModelLoadCmd(opts))
	return cmd
}

func newModelLoadCmd(opts *rootOptions) *cobra.Command {
	var providers []string

	cmd := &cobra.Command{
		Use:   "load <encoder> <predictor> <joint>",
		Short: "Load the RNN-T encoder, predictor and joint models and exit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ep") {
				providers = cfg.Model.Providers
			}

			paths := inference.ModelPaths{Encoder: args[0], Predictor: args[1], Joint: args[2]}
			if err := paths.Check(); err != nil {
				return fmt.Errorf("invalid model paths: %w", err)
			}
			eps, err := inference.ParseProviders(providers)
			if err != nil {
				return err
			}

			engine := inference.NewNull()
			defer engine.Close()
			if err := engine.Load(paths, eps); err != nil {
				if errors.Is(err, inference.ErrRuntimeUnavailable) {
					return fmt.Errorf("failed to load RNNT sessions: %w (rebuild with a model runtime)", err)
				}
				return fmt.Errorf("failed to load RNNT sessions: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "RNNT sessions loaded")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&providers, "ep", nil, "execution provider preference, repeatable: TensorRT, CUDA, CPU")
	return cmd
}
