package main

import (
	"fmt"

	"github.com/slotworks/booking-engine/internal/utils"
	"github.com/spf13/cobra"
)

func newSecretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secrets",
		Short: "Generate JWT_SECRET and PAYMENT_MERCHANT_SECRET values",
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtSecret, merchantSecret, err := utils.GenerateSecrets()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export JWT_SECRET=%s\n", jwtSecret)
			fmt.Fprintf(cmd.OutOrStdout(), "export PAYMENT_MERCHANT_SECRET=%s\n", merchantSecret)
			return nil
		},
	}
}
