package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Resemble/internal/lexical"
)

func newLexicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lexical <text-a> <text-b>",
		Short: "Score two captions with the lexical fallback",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", lexical.Similarity(args[0], args[1]))
			return nil
		},
	}
}
