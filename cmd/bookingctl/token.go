package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/pkg/jwt"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		roles  []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
			}

			service := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
			token, err := service.GenerateAccessToken(id, email, roles)
			if err != nil {
				return err
			}
			expiry, err := service.GetTokenExpiry(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "user %s, expires %s\n", id, expiry.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user id to embed (random when empty)")
	cmd.Flags().StringVar(&email, "email", "", "e-mail claim")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles, e.g. special,admin")
	return cmd
}
