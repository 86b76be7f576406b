package cli

import (
	"context"
	"fmt"

	"github.com/driftwood-forum/driftwood/internal/api"
	"github.com/driftwood-forum/driftwood/internal/bus"
	"github.com/driftwood-forum/driftwood/internal/config"
	"github.com/driftwood-forum/driftwood/internal/logging"
	"github.com/driftwood-forum/driftwood/internal/models"
	"github.com/driftwood-forum/driftwood/internal/tracking"
)

// trackingCountAll counts across every category and tag.
var trackingCountAll = tracking.CountOpts{}

func buildClient(cfg *config.Config) (*api.Client, error) {
	return api.NewClient(api.Config{
		BaseURL:     cfg.Server.BaseURL,
		APIKey:      cfg.Server.APIKey,
		APIUsername: cfg.Server.APIUsername,
		Timeout:     cfg.Server.Timeout,
		Log:         logging.Component("api"),
	})
}

// buildBus connects to NATS when configured and falls back to the
// in-memory bus otherwise. The returned closer is nil for the memory bus.
func buildBus(cfg *config.Config) (bus.Bus, func(), error) {
	if cfg.Bus.URL == "" {
		return bus.NewMemory(), nil, nil
	}
	nb, err := bus.ConnectNATS(bus.NATSConfig{
		URL:           cfg.Bus.URL,
		SubjectPrefix: cfg.Bus.SubjectPrefix,
		Durable:       cfg.Bus.Durable,
		Log:           logging.Component("bus"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect bus: %w", err)
	}
	return nb, func() { nb.Close() }, nil
}

// bootstrapTracker fetches the user, categories and initial tracking
// states, then builds a tracker loaded with them.
func bootstrapTracker(ctx context.Context, client *api.Client, b bus.Bus, cfg *config.Config) (*tracking.Tracker, *models.User, error) {
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch current user: %w", err)
	}
	categories, err := client.Categories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch categories: %w", err)
	}
	states, err := client.TrackingStates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tracking states: %w", err)
	}

	tracker := tracking.NewTracker(tracking.Options{
		Bus:        b,
		User:       user,
		Categories: categories,
		Settings: tracking.Settings{
			MaxTracked:         cfg.Tracking.MaxTracked,
			MuteOverrideWindow: cfg.Tracking.MuteOverrideWindow,
			MutedTagsPolicy:    cfg.Tracking.MutedTagsPolicy,
		},
		Log: logging.Component("tracking"),
	})
	tracker.LoadStates(states)
	return tracker, user, nil
}
