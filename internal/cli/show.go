package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spy-nav-tracker/internal/app"
)

var (
	showLimit    int
	showFailures bool
	showAlerts   bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent NAV/price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Failures: showFailures,
			Alerts:   showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
	showCmd.Flags().BoolVar(&showFailures, "failures", false, "Also list recent failed cycles")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Also list recent difference alerts")
}
