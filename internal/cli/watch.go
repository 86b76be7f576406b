package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwood-forum/driftwood/internal/bus"
	"github.com/driftwood-forum/driftwood/internal/db"
	"github.com/driftwood-forum/driftwood/internal/logging"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live message stream and print state changes",
		Long:  "watch subscribes to the tracking channels, prints every state change as a JSON line, and persists states and resume positions on shutdown.",
		RunE:  runWatch,
	}
	cmd.Flags().Bool("from-start", false, "Ignore persisted resume positions and start from new messages only")
	return cmd
}

// stateChangeEvent is one JSONL record written per state change.
type stateChangeEvent struct {
	At     time.Time `json:"at"`
	New    int       `json:"new"`
	Unread int       `json:"unread"`
	Size   int       `json:"size"`
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := os.MkdirAll(cfg.Global.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	database, err := db.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()
	repo := db.NewTrackingRepository(database)

	tracker, user, err := bootstrapTracker(ctx, client, b, cfg)
	if err != nil {
		return err
	}
	defer tracker.Close()
	log := logging.WithUser(user.ID)
	log.Debug().Str("username", user.Username).Msg("tracking bootstrapped")

	resume := map[string]bus.Position{}
	if fromStart, _ := cmd.Flags().GetBool("from-start"); !fromStart {
		saved, err := repo.Positions(ctx)
		if err != nil {
			return err
		}
		for channel, seq := range saved {
			resume[channel] = bus.Position{Seq: seq}
			channelLog := logging.WithChannel(channel)
			channelLog.Debug().Int64("seq", seq).Msg("resuming channel")
		}
	}
	if err := tracker.EstablishChannels(resume); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	token := tracker.OnStateChange(func() {
		event := stateChangeEvent{
			At:     time.Now().UTC(),
			New:    tracker.CountNew(trackingCountAll),
			Unread: tracker.CountUnread(trackingCountAll),
			Size:   tracker.Size(),
		}
		if err := enc.Encode(event); err != nil {
			log.Warn().Err(err).Msg("write state change")
		}
	})
	defer tracker.OffStateChange(token)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info().Msg("watching")
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	// Persist a snapshot so the next run resumes instead of
	// re-bootstrapping.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := repo.SaveStates(saveCtx, db.ScopeTopics, tracker.States()); err != nil {
		log.Warn().Err(err).Msg("save states")
	}
	positions := make(map[string]int64)
	for channel, pos := range tracker.Positions() {
		positions[channel] = pos.Seq
	}
	if err := repo.SavePositions(saveCtx, positions); err != nil {
		log.Warn().Err(err).Msg("save positions")
	}
	return nil
}
