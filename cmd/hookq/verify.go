package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/osvaldoandrade/hookq/pkg/signature"

	"github.com/spf13/cobra"
)

func verifyCmd(ui *ui) *cobra.Command {
	var (
		secret   string
		sig      string
		bodyFile string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a delivery signature locally",
		Long:  "Recompute the " + signature.HeaderSignature + " value for a body and compare it with the received signature.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret = firstNonEmpty(secret, os.Getenv("HOOKQ_WEBHOOK_SECRET"))
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			body, err := readInput(bodyFile)
			if err != nil {
				return err
			}
			if !signature.Verify(secret, body, strings.TrimSpace(sig)) {
				return fmt.Errorf("signature mismatch")
			}
			fmt.Printf("%s signature valid\n", ui.ok("[OK]"))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Subscription secret (or HOOKQ_WEBHOOK_SECRET)")
	cmd.Flags().StringVar(&sig, "signature", "", "Value of the "+signature.HeaderSignature+" header")
	cmd.Flags().StringVar(&bodyFile, "body-file", "-", "Raw request body (- for stdin)")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

// readInput returns the bytes of path unchanged; "-" reads stdin.
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
