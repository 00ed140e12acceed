package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Resemble/internal/config"
	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
)

// sampleSize is how many leading values embed prints.
const sampleSize = 5

func newEmbedCmd() *cobra.Command {
	var image, text string

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed an image and/or text with the active provider",
		Long: `Embed an image reference and/or caption with the provider selected by
EMBEDDING_PROVIDER and print its dimension and the first values.

Examples:
  resemble embed --image /uploads/sunset.jpg
  resemble embed --image https://cdn.example/a.png --text "beach at dusk"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg.SlogLevel()))
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.service.Embed(cmd.Context(), embeddings.Input{ImageRef: image, Text: text})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider:  %s\n", res.Provider)
			fmt.Fprintf(out, "model:     %s\n", res.Model)
			fmt.Fprintf(out, "dimension: %d\n", res.Dimension)
			fmt.Fprintf(out, "sample:    %v\n", res.Vector[:min(sampleSize, len(res.Vector))])
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "Image reference (path under PUBLIC_ASSET_ROOT or http(s) URL)")
	cmd.Flags().StringVar(&text, "text", "", "Caption text")
	return cmd
}
