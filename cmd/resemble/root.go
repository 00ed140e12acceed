package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "resemble",
		Short: "Similar-post retrieval for the gallery",
		Long: `Resemble finds posts that look alike. It embeds a post's image and caption
the first time someone asks for its neighbors, stores the vector, and
answers from the vector index afterwards.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newEmbedCmd(),
		newSimilarCmd(),
		newLexicalCmd(),
		newSealCmd(),
	)
	return root
}
