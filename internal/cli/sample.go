package cli

import (
	"github.com/spf13/cobra"

	"spy-nav-tracker/internal/app"
)

var sampleJSON bool

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Collect a single NAV/price sample and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return getApp().Sample(cmd.Context(), app.SampleOptions{JSON: sampleJSON})
	},
}

func init() {
	sampleCmd.Flags().BoolVar(&sampleJSON, "json", false, "Print the sample as JSON")
}
