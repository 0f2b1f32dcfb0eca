package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tipline/internal/catalog"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.toml>",
		Short: "Create or update contexts and receivers from a TOML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := catalog.LoadSeed(args[0])
			if err != nil {
				return err
			}
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			result, err := rt.Catalog.Apply(cmd.Context(), seed)
			if err != nil {
				return fmt.Errorf("apply seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d context(s), %d receiver(s), %d link(s)\n",
				result.Contexts, result.Receivers, result.Links)
			return nil
		},
	}
}
