// Command scheduling-service runs the provider scheduling API and its
// maintenance tasks.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "scheduling-service",
		Short:        "Provider availability, slot booking and appointment notifications",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
