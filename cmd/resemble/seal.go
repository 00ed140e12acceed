package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Resemble/internal/encryption"
)

func newSealCmd() *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a credential for GOOGLE_SERVICE_KEY",
		Long: `Read a credential from stdin and print it as a Fernet token sealed with
ENCRYPTION_KEY. With --generate-key, print a new key instead.

Examples:
  resemble seal --generate-key
  base64 -w0 service-account.json | ENCRYPTION_KEY=... resemble seal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if generate {
				k, err := encryption.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, k.Encode())
				return nil
			}

			enc, err := encryption.NewEncryptor(os.Getenv("ENCRYPTION_KEY"))
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			plain := strings.TrimSpace(string(raw))
			if plain == "" {
				return fmt.Errorf("nothing to seal on stdin")
			}

			tok, err := enc.Encrypt(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate-key", false, "Print a new Fernet key")
	return cmd
}
