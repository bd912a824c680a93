package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ifuryst/quill/internal/server"
	"github.com/ifuryst/quill/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		cfg.Database.AutoMigrate = false
		db, err := service.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		if err := service.Migrate(db); err != nil {
			return err
		}
		appLogger.Info("Database migrated")
		return nil
	},
}

func newAutomationCmd() *cobra.Command {
	var orgID uint

	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Control workflow automation",
	}
	cmd.PersistentFlags().UintVar(&orgID, "org", 0, "organization id")
	_ = cmd.MarkPersistentFlagRequired("org")

	// withServer wires the services without serving HTTP.
	withServer := func(fn func(ctx context.Context, srv *server.Server, workflowID uint) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			workflowID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}

			cfg, appLogger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			srv, err := server.NewServer(cfg, appLogger)
			if err != nil {
				return err
			}
			if srv.Redis != nil {
				defer srv.Redis.Close()
			}
			return fn(cmd.Context(), srv, uint(workflowID))
		}
	}

	printStatus := func(ctx context.Context, srv *server.Server, workflowID uint) error {
		status, err := srv.Automation.Status(ctx, workflowID, orgID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	startCmd := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Mark a workflow RUNNING; a running server picks it up",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, srv *server.Server, workflowID uint) error {
			if err := srv.Automation.StartDetached(ctx, workflowID, orgID); err != nil {
				return err
			}
			return printStatus(ctx, srv, workflowID)
		}),
	}

	stopCmd := &cobra.Command{
		Use:   "stop <workflow-id>",
		Short: "Stop a running workflow after its current item",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, srv *server.Server, workflowID uint) error {
			if err := srv.Automation.Stop(ctx, workflowID, orgID); err != nil {
				return err
			}
			return printStatus(ctx, srv, workflowID)
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show automation status and progress",
		Args:  cobra.ExactArgs(1),
		RunE:  withServer(printStatus),
	}

	cmd.AddCommand(startCmd, stopCmd, statusCmd)
	return cmd
}
