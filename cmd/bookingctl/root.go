package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/internal/database"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operator commands for the booking engine: schema, sample data and payment jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newExpirePendingCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newSecretsCmd())

	return root
}

func newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// connect loads configuration and opens the database
func connect() (*config.Config, *database.PostgresDB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
