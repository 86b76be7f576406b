package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftwood-forum/driftwood/internal/tracking"
)

func newCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print new and unread topic counts",
		RunE:  runCounts,
	}
	cmd.Flags().Int("category", 0, "Restrict counts to a category (and its subcategories)")
	cmd.Flags().Bool("no-subcategories", false, "Do not include subcategories")
	cmd.Flags().String("tag", "", "Restrict counts to a tag")
	cmd.Flags().Bool("json", false, "JSON output")
	return cmd
}

func runCounts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	b, closeBus, err := buildBus(cfg)
	if err != nil {
		return err
	}
	if closeBus != nil {
		defer closeBus()
	}

	ctx := cmd.Context()
	tracker, _, err := bootstrapTracker(ctx, client, b, cfg)
	if err != nil {
		return err
	}
	defer tracker.Close()

	categoryID, _ := cmd.Flags().GetInt("category")
	noSub, _ := cmd.Flags().GetBool("no-subcategories")
	tag, _ := cmd.Flags().GetString("tag")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	opts := tracking.CountOpts{
		CategoryID:      categoryID,
		NoSubcategories: noSub,
		TagID:           tag,
	}
	newCount := tracker.CountNew(opts)
	unreadCount := tracker.CountUnread(opts)

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]int{
			"new":    newCount,
			"unread": unreadCount,
			"total":  newCount + unreadCount,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "new: %d\nunread: %d\n", newCount, unreadCount)
	return nil
}
