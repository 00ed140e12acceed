package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Resemble/internal/config"
)

func newSimilarCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <post-id>",
		Short: "Resolve the neighbors of one post",
		Long: `Look up a post's neighbors against the configured backends, embedding
and storing the post first if the index does not know it yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg.SlogLevel()))
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.service.Similar(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum neighbors (0 uses SIMILAR_TOP_K)")
	return cmd
}
