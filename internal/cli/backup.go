package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

var (
	backupInstance string
	backupKind     string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run an ad-hoc backup and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instance, err := svc.Instances.GetByName(ctx, backupInstance)
		if err != nil {
			return fmt.Errorf("unknown instance %q: %w", backupInstance, err)
		}

		job, err := svc.Scheduler.TriggerBackup(ctx, instance.ID, domain.BackupKind(backupKind))
		if err != nil {
			return err
		}
		fmt.Printf("job %d admitted (%s backup of %s)\n", job.ID, job.Kind, instance.Name)

		for {
			time.Sleep(time.Second)
			current, err := svc.Ledger.Get(ctx, job.ID)
			if err != nil {
				return err
			}
			if !current.State.Terminal() {
				continue
			}
			if current.State != domain.JobSucceeded {
				detail := ""
				if current.Detail != nil {
					detail = ": " + *current.Detail
				}
				return fmt.Errorf("job %d %s%s", current.ID, current.State, detail)
			}
			fmt.Printf("job %d succeeded\n", current.ID)
			return nil
		}
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupInstance, "instance", "i", "", "instance name")
	backupCmd.Flags().StringVarP(&backupKind, "kind", "k", "logical", "backup kind (logical or physical)")
	backupCmd.MarkFlagRequired("instance")
}
