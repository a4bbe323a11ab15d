package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/bdistml/internal/setup"
	"github.com/hed1ad/bdistml/pkg/store"
)

func newInspectCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the stored model's hyperparameters and metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, env, err := setup.Setup(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer env.Close()

			m, err := store.LoadModel(ctx, env.Store, env.Config.Store.Name)
			if err != nil {
				return err
			}
			md := m.Metadata()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "model\t%s\n", env.Config.Store.Name)
			fmt.Fprintf(w, "initial_normal_features\t%d\n", m.InitialNormalFeatures())
			fmt.Fprintf(w, "threshold_learning\t%g\n", m.LearningThreshold())
			fmt.Fprintf(w, "threshold_classification\t%g\n", m.Threshold())
			fmt.Fprintf(w, "pruning_parameter\t%g\n", m.PruningParameter())
			fmt.Fprintf(w, "balanced_distribution\t%d x %d\n", m.Len(), m.Dim())
			if md.RunID != "" {
				fmt.Fprintf(w, "run_id\t%s\n", md.RunID)
				fmt.Fprintf(w, "features_used\t%d\n", md.FeaturesUsed)
				fmt.Fprintf(w, "duration\t%s\n", md.Duration())
			}
			return w.Flush()
		},
	}
}
