package main

import (
	"context"
	"fmt"
	"io"

	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/spf13/cobra"
)

// catalogSeeder creates catalog rows that do not exist yet
type catalogSeeder interface {
	UpsertLocation(ctx context.Context, location *models.Location) (bool, error)
	UpsertTimeSlot(ctx context.Context, slot *models.TimeSlotTemplate) (bool, error)
}

var sampleLocations = []models.Location{
	{Name: "Meeting Room A", Description: "Seats up to 10. Projector and whiteboard included.", Capacity: 10},
	{Name: "Meeting Room B", Description: "Seats up to 6. Quiet room for focused work.", Capacity: 6},
	{Name: "Seminar Room", Description: "Seats up to 20. Sound system included.", Capacity: 20},
	{Name: "Consultation Room", Description: "Private room for 1-2 people.", Capacity: 2},
}

// sampleSlotHours are the start hours of the hourly sample templates; 12:00 is lunch
var sampleSlotHours = []int{9, 10, 11, 13, 14, 15, 16, 17}

func newSeedCmd() *cobra.Command {
	var (
		price    int64
		currency string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample locations and hourly time slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if currency == "" {
				currency = cfg.Booking.DefaultCurrency
			}
			return seedCatalog(cmd.Context(), database.NewCatalogRepository(db), price, currency, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64Var(&price, "price", 0, "price per 30 minutes in minor units (0 makes the locations free)")
	cmd.Flags().StringVar(&currency, "currency", "", "location currency (defaults to DEFAULT_CURRENCY)")
	return cmd
}

func seedCatalog(ctx context.Context, repo catalogSeeder, price int64, currency string, out io.Writer) error {
	for _, sample := range sampleLocations {
		location := sample
		location.PricePer30 = price
		location.Currency = currency

		created, err := repo.UpsertLocation(ctx, &location)
		if err != nil {
			return err
		}
		report(out, created, "location", location.Name)
	}

	for _, hour := range sampleSlotHours {
		slot := models.TimeSlotTemplate{
			StartTime: models.NewTimeOfDay(hour, 0, 0),
			EndTime:   models.NewTimeOfDay(hour+1, 0, 0),
		}
		created, err := repo.UpsertTimeSlot(ctx, &slot)
		if err != nil {
			return err
		}
		report(out, created, "time slot", slot.StartTime.String()+"-"+slot.EndTime.String())
	}

	fmt.Fprintln(out, "sample data ready")
	return nil
}

func report(out io.Writer, created bool, kind, name string) {
	if created {
		fmt.Fprintf(out, "created %s: %s\n", kind, name)
		return
	}
	fmt.Fprintf(out, "%s already exists: %s\n", kind, name)
}
