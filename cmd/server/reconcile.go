package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/repositories"
	"delivery-backend/internal/services"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair request statuses that drifted from their deliveries",
	Long: `Walks every request bound to a delivery and rewrites the request status
the delivery implies. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := db.NewGateway(cfg, log)
		defer gw.Close()

		svc := services.NewArchiveService(
			repositories.NewArchiveRepository(gw),
			repositories.NewDeliveryRequestRepository(gw),
			policy.New(),
			log,
		)
		result, err := svc.Reconcile(cmd.Context(), models.SystemCaller())
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"checked":  result.Checked,
			"drifted":  len(result.Drifts),
			"repaired": result.Repaired,
		}).Info("[Reconcile] Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
