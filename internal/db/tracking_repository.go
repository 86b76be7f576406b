package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// Tracking scopes. Topic and private-message state are persisted side by
// side but never mixed.
const (
	ScopeTopics = "topics"
	ScopePM     = "pm"
)

// ErrStateNotFound is returned when no snapshot exists for a topic.
var ErrStateNotFound = errors.New("tracking state not found")

// TrackingRepository persists tracking-state snapshots and channel resume
// positions.
type TrackingRepository struct {
	db *DB
}

// NewTrackingRepository creates a new TrackingRepository.
func NewTrackingRepository(db *DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// SaveStates upserts a batch of tracking states under the given scope in
// one transaction.
func (r *TrackingRepository) SaveStates(ctx context.Context, scope string, states []models.TopicState) error {
	if len(states) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tracking_states (scope, topic_id, state_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (scope, topic_id) DO UPDATE SET
				state_json = excluded.state_json,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare state upsert: %w", err)
		}
		defer stmt.Close()

		for i := range states {
			data, err := json.Marshal(states[i])
			if err != nil {
				return fmt.Errorf("failed to marshal state for topic %d: %w", states[i].TopicID, err)
			}
			if _, err := stmt.ExecContext(ctx, scope, states[i].TopicID, string(data), now); err != nil {
				return fmt.Errorf("failed to store state for topic %d: %w", states[i].TopicID, err)
			}
		}
		return nil
	})
}

// LoadStates returns every persisted state for the scope, ordered by topic
// id.
func (r *TrackingRepository) LoadStates(ctx context.Context, scope string) ([]models.TopicState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state_json FROM tracking_states
		WHERE scope = ?
		ORDER BY topic_id
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking states: %w", err)
	}
	defer rows.Close()

	var states []models.TopicState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan tracking state: %w", err)
		}
		var st models.TopicState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tracking state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking states: %w", err)
	}
	return states, nil
}

// LoadState returns the persisted state for one topic.
func (r *TrackingRepository) LoadState(ctx context.Context, scope string, topicID int) (models.TopicState, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
		SELECT state_json FROM tracking_states
		WHERE scope = ? AND topic_id = ?
	`, scope, topicID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TopicState{}, ErrStateNotFound
	}
	if err != nil {
		return models.TopicState{}, fmt.Errorf("failed to query tracking state: %w", err)
	}
	var st models.TopicState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return models.TopicState{}, fmt.Errorf("failed to unmarshal tracking state: %w", err)
	}
	return st, nil
}

// DeleteStates removes the persisted states for the given topics.
func (r *TrackingRepository) DeleteStates(ctx context.Context, scope string, topicIDs []int) error {
	if len(topicIDs) == 0 {
		return nil
	}
	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			DELETE FROM tracking_states WHERE scope = ? AND topic_id = ?
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare state delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range topicIDs {
			if _, err := stmt.ExecContext(ctx, scope, id); err != nil {
				return fmt.Errorf("failed to delete state for topic %d: %w", id, err)
			}
		}
		return nil
	})
}

// SavePositions upserts the last-processed bus sequence per channel.
func (r *TrackingRepository) SavePositions(ctx context.Context, positions map[string]int64) error {
	if len(positions) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO channel_positions (channel, seq, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (channel) DO UPDATE SET
				seq = excluded.seq,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare position upsert: %w", err)
		}
		defer stmt.Close()

		for channel, seq := range positions {
			if _, err := stmt.ExecContext(ctx, channel, seq, now); err != nil {
				return fmt.Errorf("failed to store position for %s: %w", channel, err)
			}
		}
		return nil
	})
}

// Positions returns the persisted resume sequence per channel.
func (r *TrackingRepository) Positions(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT channel, seq FROM channel_positions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]int64)
	for rows.Next() {
		var channel string
		var seq int64
		if err := rows.Scan(&channel, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan channel position: %w", err)
		}
		positions[channel] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channel positions: %w", err)
	}
	return positions, nil
}
