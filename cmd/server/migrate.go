package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"delivery-backend/internal/database"
	"delivery-backend/internal/db"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := db.NewGateway(cfg, log)
		defer gw.Close()

		if !migrateDown {
			return migrateUp(cmd.Context(), gw)
		}
		pool, err := gw.Pool(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "connect")
		}
		return database.NewMigrator(pool, log).Down()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration instead")
	rootCmd.AddCommand(migrateCmd)
}
