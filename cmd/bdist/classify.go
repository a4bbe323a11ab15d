package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/internal/setup"
	"github.com/hed1ad/bdistml/pkg/io/jsonl"
	"github.com/hed1ad/bdistml/pkg/pipeline"
	"github.com/hed1ad/bdistml/pkg/store"
)

func newClassifyCmd(root *rootFlags) *cobra.Command {
	in := &inputFlags{}
	var threshold float64

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Score feature vectors against the stored model",
		Long: `Classify writes one JSON line per input vector with its Mahalanobis distance
to the stored Balanced Distribution and whether it exceeds the threshold.`,
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

			source, err := openInput(in)
			if err != nil {
				return err
			}
			defer source.Close()

			var override *float64
			if cmd.Flags().Changed("threshold") {
				override = &threshold
			}

			sink := jsonl.NewWriter(cmd.OutOrStdout())
			sum, err := pipeline.Classify(ctx, m, source, sink, override)
			if flushErr := sink.Flush(); err == nil {
				err = flushErr
			}
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			logging.FromContext(ctx).Infow("classified",
				"scored", sum.Scored, "anomalies", sum.Anomalies, "skipped", sum.Skipped, "max_score", sum.MaxScore)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.path, "input", "i", "", "feature file (CSV or pcap)")
	cmd.Flags().StringVar(&in.format, "format", formatAuto, "input format: auto, csv or pcap")
	cmd.Flags().BoolVar(&in.noHeader, "no-header", false, "CSV input has no header row")
	cmd.Flags().StringVar(&in.bpf, "filter", "", "BPF filter for pcap input")
	cmd.Flags().IntVar(&in.maxPacket, "max-packets", 0, "stop reading pcap input after this many packets")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "override the classification threshold")
	return cmd
}
