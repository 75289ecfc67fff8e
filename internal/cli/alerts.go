package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"memepulse/internal/app"
)

var (
	alertSymbol    string
	alertThreshold string
	alertTimeframe int
	alertActive    string
	alertLimit     int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().CreateAlert(cmd.Context(), app.AlertOptions{
			Symbol:           alertSymbol,
			ThresholdPercent: alertThreshold,
			TimeframeMinutes: alertTimeframe,
		})
		return err
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, pending first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AlertOptions{Symbol: alertSymbol, Limit: alertLimit}
		switch alertActive {
		case "":
		case "true", "false":
			active := alertActive == "true"
			opts.Active = &active
		default:
			return fmt.Errorf("--active must be true or false")
		}
		return getApp().ListAlerts(cmd.Context(), opts)
	},
}

func init() {
	alertsCreateCmd.Flags().StringVar(&alertSymbol, "symbol", "", "Token symbol")
	alertsCreateCmd.Flags().StringVar(&alertThreshold, "threshold", "", "Absolute percentage move that triggers the alert")
	alertsCreateCmd.Flags().IntVar(&alertTimeframe, "timeframe", 0, "Window in minutes")

	alertsListCmd.Flags().StringVar(&alertSymbol, "symbol", "", "Only alerts of this token")
	alertsListCmd.Flags().StringVar(&alertActive, "active", "", "Filter by active state (true|false)")
	alertsListCmd.Flags().IntVar(&alertLimit, "limit", 0, "Maximum alerts to list (0 for all)")

	alertsCmd.AddCommand(alertsCreateCmd)
	alertsCmd.AddCommand(alertsListCmd)
}
