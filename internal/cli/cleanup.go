package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one retention sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		removed, err := svc.Cleanup.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d artifacts removed\n", removed)
		return nil
	},
}
