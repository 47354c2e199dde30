package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darkistan/routerbot/internal/output"
	"github.com/darkistan/routerbot/internal/store"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent script executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return auditRun()
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "l", 20, "Max rows to show")
	rootCmd.AddCommand(auditCmd)
}

func auditRun() error {
	dbPath := viper.GetString("db_path")
	if dbPath == "" {
		return fmt.Errorf("db_path is not configured; the audit trail is disabled")
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate audit store: %w", err)
	}

	attempts, err := s.ListAttempts(ctx, auditLimit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		ui.Info("No executions recorded yet")
		return nil
	}

	table := ui.Table([]string{"Time", "User", "Device", "Script", "Outcome", "Result"})
	for _, a := range attempts {
		table.Append([]string{
			a.Time.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%s (%s)", a.ActorName, a.Actor),
			output.Cyan(a.Device),
			a.Script,
			output.OutcomeColor(a.Outcome),
			a.Preview,
		})
	}
	return table.Render()
}
