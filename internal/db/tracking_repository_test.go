package db

import (
	"context"
	"errors"
	"testing"

	"github.com/driftwood-forum/driftwood/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func intPtr(v int) *int { return &v }

func TestTrackingRepository_SaveAndLoadStates(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)
	ctx := context.Background()

	level := models.NotificationTracking
	states := []models.TopicState{
		{TopicID: 2, HighestPostNumber: 9, LastReadPostNumber: intPtr(4), NotificationLevel: &level, Tags: []string{"release"}},
		{TopicID: 1, HighestPostNumber: 3, CreatedInNewPeriod: true},
	}

	if err := repo.SaveStates(ctx, ScopeTopics, states); err != nil {
		t.Fatalf("SaveStates failed: %v", err)
	}

	loaded, err := repo.LoadStates(ctx, ScopeTopics)
	if err != nil {
		t.Fatalf("LoadStates failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 states, got %d", len(loaded))
	}
	if loaded[0].TopicID != 1 || loaded[1].TopicID != 2 {
		t.Fatalf("expected states ordered by topic id, got %d, %d", loaded[0].TopicID, loaded[1].TopicID)
	}
	if loaded[1].LastReadPostNumber == nil || *loaded[1].LastReadPostNumber != 4 {
		t.Fatalf("last read post number not round-tripped: %+v", loaded[1])
	}
	if loaded[1].NotificationLevel == nil || *loaded[1].NotificationLevel != models.NotificationTracking {
		t.Fatalf("notification level not round-tripped: %+v", loaded[1])
	}
	if !loaded[0].CreatedInNewPeriod {
		t.Fatal("created-in-new-period flag lost")
	}
}

func TestTrackingRepository_SaveStatesUpserts(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)
	ctx := context.Background()

	if err := repo.SaveStates(ctx, ScopeTopics, []models.TopicState{{TopicID: 1, HighestPostNumber: 3}}); err != nil {
		t.Fatalf("initial SaveStates failed: %v", err)
	}
	if err := repo.SaveStates(ctx, ScopeTopics, []models.TopicState{{TopicID: 1, HighestPostNumber: 8}}); err != nil {
		t.Fatalf("second SaveStates failed: %v", err)
	}

	state, err := repo.LoadState(ctx, ScopeTopics, 1)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state.HighestPostNumber != 8 {
		t.Fatalf("expected highest post number 8 after upsert, got %d", state.HighestPostNumber)
	}
}

func TestTrackingRepository_ScopesArePartitioned(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)
	ctx := context.Background()

	if err := repo.SaveStates(ctx, ScopeTopics, []models.TopicState{{TopicID: 1}}); err != nil {
		t.Fatalf("SaveStates topics failed: %v", err)
	}
	if err := repo.SaveStates(ctx, ScopePM, []models.TopicState{{TopicID: 1}, {TopicID: 2}}); err != nil {
		t.Fatalf("SaveStates pm failed: %v", err)
	}

	topics, err := repo.LoadStates(ctx, ScopeTopics)
	if err != nil {
		t.Fatalf("LoadStates topics failed: %v", err)
	}
	pm, err := repo.LoadStates(ctx, ScopePM)
	if err != nil {
		t.Fatalf("LoadStates pm failed: %v", err)
	}
	if len(topics) != 1 || len(pm) != 2 {
		t.Fatalf("expected 1 topic state and 2 pm states, got %d and %d", len(topics), len(pm))
	}
}

func TestTrackingRepository_LoadStateNotFound(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)

	_, err := repo.LoadState(context.Background(), ScopeTopics, 99)
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestTrackingRepository_DeleteStates(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)
	ctx := context.Background()

	states := []models.TopicState{{TopicID: 1}, {TopicID: 2}, {TopicID: 3}}
	if err := repo.SaveStates(ctx, ScopeTopics, states); err != nil {
		t.Fatalf("SaveStates failed: %v", err)
	}
	if err := repo.DeleteStates(ctx, ScopeTopics, []int{1, 3}); err != nil {
		t.Fatalf("DeleteStates failed: %v", err)
	}

	remaining, err := repo.LoadStates(ctx, ScopeTopics)
	if err != nil {
		t.Fatalf("LoadStates failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TopicID != 2 {
		t.Fatalf("expected only topic 2 to remain, got %+v", remaining)
	}
}

func TestTrackingRepository_PositionsRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	repo := NewTrackingRepository(database)
	ctx := context.Background()

	if err := repo.SavePositions(ctx, map[string]int64{"/new": 12, "/unread/4": 40}); err != nil {
		t.Fatalf("SavePositions failed: %v", err)
	}
	if err := repo.SavePositions(ctx, map[string]int64{"/new": 15}); err != nil {
		t.Fatalf("SavePositions update failed: %v", err)
	}

	positions, err := repo.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions["/new"] != 15 {
		t.Fatalf("expected /new position 15, got %d", positions["/new"])
	}
	if positions["/unread/4"] != 40 {
		t.Fatalf("expected /unread/4 position 40, got %d", positions["/unread/4"])
	}
}
