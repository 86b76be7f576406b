package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftwood-forum/driftwood/internal/db"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the persisted tracking-state snapshot",
	}
	cmd.AddCommand(newSnapshotSaveCmd(), newSnapshotShowCmd())
	return cmd
}

func newSnapshotSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Fetch the current tracking states and persist them",
		RunE:  runSnapshotSave,
	}
}

func newSnapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted tracking states as JSON lines",
		RunE:  runSnapshotShow,
	}
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	states, err := client.TrackingStates(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Global.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	database, err := db.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewTrackingRepository(database)
	if err := repo.SaveStates(ctx, db.ScopeTopics, states); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %d states\n", len(states))
	return nil
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	database, err := db.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewTrackingRepository(database)
	states, err := repo.LoadStates(ctx, db.ScopeTopics)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := range states {
		if err := enc.Encode(states[i]); err != nil {
			return err
		}
	}
	return nil
}
