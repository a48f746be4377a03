package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, scheduler, binlog streamer and retention sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		// Jobs left non-terminal by the previous run cannot be resumed;
		// fail them so their slots free up before the first tick
		recovered, err := svc.Ledger.RecoverOrphans(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			svc.Log.Infow("orphaned jobs recovered", "count", recovered)
		}

		server := api.NewServer(svc.Cfg, svc.Log, svc.apiHandlers())

		errCh := make(chan error, 1)
		go func() {
			if err := server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		go func() {
			if err := svc.Scheduler.Run(ctx); err != nil {
				svc.Log.Errorw("scheduler stopped", "error", err)
			}
		}()
		go func() {
			if err := svc.Streamer.Run(ctx); err != nil {
				svc.Log.Errorw("streamer stopped", "error", err)
			}
		}()
		go func() {
			if err := svc.Cleanup.Run(ctx); err != nil {
				svc.Log.Errorw("retention sweep stopped", "error", err)
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		svc.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
