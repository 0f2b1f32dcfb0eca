package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tipline/internal/attachments"
	"tipline/internal/encryption"
)

func newKeygenCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "keygen",
		Short:       "Generate an age keypair for a receiver",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := encryption.GenerateKeypair()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]string{"identity": kp.Identity, "recipient": kp.Recipient})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# public key: %s\n", kp.Recipient)
			fmt.Fprintln(out, kp.Identity)
			fmt.Fprintln(cmd.ErrOrStderr(), "Give the receiver the identity line above; store only the public key in the seed file.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newDecryptCommand() *cobra.Command {
	var identityPath string
	var outputPath string

	cmd := &cobra.Command{
		Use:         "decrypt <file>",
		Short:       "Decrypt a delivered file or notification with a receiver identity",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := readIdentity(identityPath)
			if err != nil {
				return err
			}
			src, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open ciphertext: %w", err)
			}
			defer src.Close()

			plain, err := encryption.Decrypt(src, identity)
			if err != nil {
				return err
			}
			if outputPath == "" || outputPath == "-" {
				_, err := io.Copy(cmd.OutOrStdout(), plain)
				return err
			}
			written, _, err := attachments.WriteAtomic(outputPath, plain, 0o600, 0)
			if err != nil {
				return fmt.Errorf("write plaintext: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", written, outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&identityPath, "identity", "i", "", "File holding the AGE-SECRET-KEY identity")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write plaintext here instead of stdout")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

// readIdentity returns the first identity line of an age key file,
// skipping comments.
func readIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", fmt.Errorf("no identity found in %s", path)
}
