package main

import (
	"context"
	"fmt"

	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/services"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Poll the gateway for stale pending payment intents once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaymentJob(cmd, "reconciled", func(ctx context.Context, gate *services.PaymentGateService) (int, error) {
				return gate.Reconcile(ctx)
			})
		},
	}
}

func newExpirePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-pending",
		Short: "Cancel payment intents that stayed pending past the timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaymentJob(cmd, "expired", func(ctx context.Context, gate *services.PaymentGateService) (int, error) {
				return gate.ExpirePending(ctx)
			})
		},
	}
}

// runPaymentJob builds the payment gate from configuration and runs job once.
// Events are not published from the CLI.
func runPaymentJob(cmd *cobra.Command, verb string, job func(context.Context, *services.PaymentGateService) (int, error)) error {
	cfg, db, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newLogger(cmd.ErrOrStderr())
	gate := services.NewPaymentGateService(
		database.NewPaymentIntentRepository(db),
		services.NewPaymentGateway(cfg.Payment, cfg.Booking.MinorUnits, logger),
		database.NewPaymentAuditRepository(db, logger),
		nil,
		services.PaymentGateConfigFrom(cfg.Payment, cfg.Booking.MinorUnits),
		logger,
	)

	count, err := job(cmd.Context(), gate)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d payment intent(s)\n", verb, count)
	return err
}
