package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/internal/setup"
	"github.com/hed1ad/bdistml/pkg/store"
)

func newDeleteCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, env, err := setup.Setup(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer env.Close()

			name := env.Config.Store.Name
			ok, err := env.Store.Exists(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("model %q: %w", name, store.ErrNotFound)
			}

			if err := env.Store.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete model %q: %w", name, err)
			}
			logging.FromContext(ctx).Infof("deleted model %q", name)

			fmt.Fprintf(cmd.OutOrStdout(), "deleted model %q\n", name)
			return nil
		},
	}
}
