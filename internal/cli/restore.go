package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/service"
)

var (
	restoreInstance string
	restoreTarget   string
	restoreStaging  string
	restoreDataDir  string
	restorePlanOnly bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an instance to a point in time",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		target, err := time.Parse(time.RFC3339, restoreTarget)
		if err != nil {
			return fmt.Errorf("target must be RFC 3339 (e.g. 2026-08-25T14:00:00Z): %w", err)
		}

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instance, err := svc.Instances.GetByName(ctx, restoreInstance)
		if err != nil {
			return fmt.Errorf("unknown instance %q: %w", restoreInstance, err)
		}

		plan, err := svc.Restores.Plan(ctx, instance.ID, target)
		if err != nil {
			return err
		}

		fmt.Printf("base: %s backup %s (%d bytes)\n", plan.Base.Kind, plan.Base.Path, plan.Base.Size)
		fmt.Printf("binlogs: %d files\n", len(plan.Binlogs))
		if plan.Truncated != "" {
			fmt.Printf("warning: chain stops early (%s)\n", plan.Truncated)
		}
		if restorePlanOnly {
			return nil
		}

		job, err := svc.Restores.Execute(ctx, service.RestoreRequest{
			InstanceID: instance.ID,
			Target:     target,
			StagingDir: restoreStaging,
			DataDir:    restoreDataDir,
		})
		if err != nil {
			return err
		}
		if job.State != domain.JobSucceeded {
			detail := ""
			if job.Detail != nil {
				detail = ": " + *job.Detail
			}
			return fmt.Errorf("restore job %d %s%s", job.ID, job.State, detail)
		}
		fmt.Printf("restore job %d succeeded\n", job.ID)
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreInstance, "instance", "i", "", "instance name")
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "target time (RFC 3339)")
	restoreCmd.Flags().StringVar(&restoreStaging, "staging-dir", "", "staging directory for downloaded artifacts")
	restoreCmd.Flags().StringVar(&restoreDataDir, "data-dir", "", "server data directory (physical restores)")
	restoreCmd.Flags().BoolVar(&restorePlanOnly, "plan", false, "resolve and print the plan without executing")
	restoreCmd.MarkFlagRequired("instance")
	restoreCmd.MarkFlagRequired("target")
}
