package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/core/repository"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Inspect binlog capture sessions",
}

var streamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stream sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		sessions, err := svc.StreamRepo.List(ctx, repository.StreamFilter{})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINSTANCE\tSTATE\tPOSITION\tFAILURES\tHEARTBEAT")
		for _, session := range sessions {
			heartbeat := "-"
			if session.LastHeartbeat != nil {
				heartbeat = session.LastHeartbeat.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s:%d\t%d\t%s\n",
				session.ID, session.InstanceID, session.State,
				session.LogFile, session.LogPos, session.Failures, heartbeat)
		}
		return w.Flush()
	},
}

var streamsResyncCmd = &cobra.Command{
	Use:   "resync <instance-name>",
	Short: "Restart capture from the server's current coordinates",
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

		session, err := svc.Streamer.Resync(ctx, instance.ID)
		if err != nil {
			return err
		}
		fmt.Printf("session %d created at %s:%d\n", session.ID, session.LogFile, session.LogPos)
		return nil
	},
}

func init() {
	streamsCmd.AddCommand(streamsListCmd)
	streamsCmd.AddCommand(streamsResyncCmd)
}
