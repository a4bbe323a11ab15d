package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/internal/setup"
	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	bdio "github.com/hed1ad/bdistml/pkg/io"
	"github.com/hed1ad/bdistml/pkg/pipeline"
)

func newGenerateCmd(root *rootFlags) *cobra.Command {
	in := &inputFlags{}
	var force bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a model from anomaly-free feature vectors and save it",
		Long: `Generate seeds a Balanced Distribution with the first initial_normal_features
vectors of the input, grows and prunes it, and saves it to the configured store.
The input must be free of anomalies; this is not checked.
Interrupting the command discards the model and saves nothing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, env, err := setup.Setup(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer env.Close()
			logger := logging.FromContext(ctx)

			exists := false
			if !force {
				exists, err = env.Store.Exists(ctx, env.Config.Store.Name)
				if err != nil {
					return err
				}
			}

			var source bdio.Reader
			if !exists {
				source, err = openInput(in)
				if err != nil {
					return err
				}
				defer source.Close()
			}

			lastPercent := -1
			progress := balanced.WithProgress(func(p balanced.Progress) {
				percent := 100 * p.Index / max(p.Total, 1)
				if percent/10 == lastPercent/10 && p.Index != p.Total {
					return
				}
				lastPercent = percent
				logger.Infow("progress", "phase", p.Phase, "index", p.Index, "total", p.Total,
					"retained", p.Retained, "pruned", p.Pruned)
			})

			out, err := pipeline.LoadOrGenerate(ctx, env.Store, source, pipeline.Options{
				Name:  env.Config.Store.Name,
				Force: force,
				Model: env.ModelOptions(progress),
			})
			if err != nil {
				return err
			}

			verb := "loaded existing"
			if out.Generated {
				verb = "generated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s model %q: %d entries, %d dimensions\n",
				verb, env.Config.Store.Name, out.Model.Len(), out.Model.Dim())
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.path, "input", "i", "", "feature file (CSV or pcap); not read when a model is already stored")
	cmd.Flags().StringVar(&in.format, "format", formatAuto, "input format: auto, csv or pcap")
	cmd.Flags().BoolVar(&in.noHeader, "no-header", false, "CSV input has no header row")
	cmd.Flags().StringVar(&in.bpf, "filter", "", "BPF filter for pcap input")
	cmd.Flags().IntVar(&in.maxPacket, "max-packets", 0, "stop reading pcap input after this many packets")
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even if a model is already stored")
	return cmd
}
