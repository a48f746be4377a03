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

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Manage monitored instances",
}

var (
	instanceName  string
	instanceHost  string
	instancePort  int
	instanceRole  string
	instanceCreds string
)

var instancesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instance := domain.NewInstance(instanceName, instanceHost, instancePort,
			domain.InstanceRole(instanceRole), instanceCreds)
		if err := svc.Instances.Register(ctx, instance); err != nil {
			return err
		}
		fmt.Printf("instance %d (%s) registered\n", instance.ID, instance.Name)
		return nil
	},
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instances, _, err := svc.Instances.List(ctx, repository.InstanceFilter{})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDR\tROLE\tACTIVE\tVERSION")
		for _, instance := range instances {
			version := "-"
			if instance.ServerVersion != nil {
				version = *instance.ServerVersion
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
				instance.ID, instance.Name, instance.Addr(), instance.Role, instance.Active, version)
		}
		return w.Flush()
	},
}

var instancesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <name>",
	Short: "Deactivate an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		instance, err := svc.Instances.GetByName(ctx, args[0])
		if err != nil {
			return err
		}
		if err := svc.Instances.Deactivate(ctx, instance.ID); err != nil {
			return err
		}
		fmt.Printf("instance %s deactivated\n", instance.Name)
		return nil
	},
}

func init() {
	instancesAddCmd.Flags().StringVar(&instanceName, "name", "", "unique instance name")
	instancesAddCmd.Flags().StringVar(&instanceHost, "host", "", "server host")
	instancesAddCmd.Flags().IntVar(&instancePort, "port", 3306, "server port")
	instancesAddCmd.Flags().StringVar(&instanceRole, "role", "source", "role (source or replica)")
	instancesAddCmd.Flags().StringVar(&instanceCreds, "credentials-file", "", "defaults file with [client] credentials")
	instancesAddCmd.MarkFlagRequired("name")
	instancesAddCmd.MarkFlagRequired("host")
	instancesAddCmd.MarkFlagRequired("credentials-file")

	instancesCmd.AddCommand(instancesAddCmd)
	instancesCmd.AddCommand(instancesListCmd)
	instancesCmd.AddCommand(instancesDeactivateCmd)
}
