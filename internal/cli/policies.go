package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Manage backup policies",
}

var (
	policyInstance       string
	policyKind           string
	policySchedule       string
	policyRetentionCount int
	policyRetentionDays  int
)

var policiesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a backup policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instance, err := svc.Instances.GetByName(ctx, policyInstance)
		if err != nil {
			return fmt.Errorf("unknown instance %q: %w", policyInstance, err)
		}

		policy := domain.NewPolicy(instance.ID, domain.BackupKind(policyKind), policySchedule)
		if policyRetentionCount > 0 {
			policy.RetentionCount = &policyRetentionCount
		}
		if policyRetentionDays > 0 {
			policy.RetentionDays = &policyRetentionDays
		}

		if err := svc.Policies.Create(ctx, policy); err != nil {
			return err
		}
		fmt.Printf("policy %d created (%s %s)\n", policy.ID, instance.Name, policy.Kind)
		return nil
	},
}

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		policies, _, err := svc.Policies.List(ctx, repository.PolicyFilter{})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINSTANCE\tKIND\tSCHEDULE\tENABLED")
		for _, policy := range policies {
			schedule := policy.Schedule
			if schedule == "" {
				schedule = "-"
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%t\n",
				policy.ID, policy.InstanceID, policy.Kind, schedule, policy.Enabled)
		}
		return w.Flush()
	},
}

var policiesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid policy id %q", args[0])
		}

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Policies.Disable(ctx, id); err != nil {
			return err
		}
		fmt.Printf("policy %d disabled\n", id)
		return nil
	},
}

func init() {
	policiesAddCmd.Flags().StringVar(&policyInstance, "instance", "", "instance name")
	policiesAddCmd.Flags().StringVar(&policyKind, "kind", "", "backup kind (logical, physical or binlog)")
	policiesAddCmd.Flags().StringVar(&policySchedule, "schedule", "", "cron schedule (not used for binlog)")
	policiesAddCmd.Flags().IntVar(&policyRetentionCount, "retention-count", 0, "keep at most this many artifacts")
	policiesAddCmd.Flags().IntVar(&policyRetentionDays, "retention-days", 0, "expire artifacts after this many days")
	policiesAddCmd.MarkFlagRequired("instance")
	policiesAddCmd.MarkFlagRequired("kind")

	policiesCmd.AddCommand(policiesAddCmd)
	policiesCmd.AddCommand(policiesListCmd)
	policiesCmd.AddCommand(policiesDisableCmd)
}
