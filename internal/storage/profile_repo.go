package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_profile_store.go -package=mocks studycoach-ai/internal/storage ProfileStore

import (
	"context"
	"database/sql"
	"fmt"
)

// ProfileStore defines the interface for learner profile persistence.
// Concurrency control lives above this layer (see internal/profile); the repo
// only moves rows in and out of the database.
type ProfileStore interface {
	// Get returns the profile row for (user, scope). Returns ErrNotFound if none exists.
	Get(ctx context.Context, userID, scope string) (*ProfileRecord, error)
	// Put inserts or fully replaces the profile row for (user, scope).
	Put(ctx context.Context, record *ProfileRecord) error
	// Delete removes the profile row for (user, scope). Missing rows are not an error.
	Delete(ctx context.Context, userID, scope string) error
}

// ProfileRepo provides methods for learner profile persistence.
// It implements the ProfileStore interface.
type ProfileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Get returns the profile row for (user, scope). Returns ErrNotFound if none exists.
func (r *ProfileRepo) Get(ctx context.Context, userID, scope string) (*ProfileRecord, error) {
	var rec ProfileRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, scope, theta, frustration, recent_accuracy, mastery,
			attempts, correct, consecutive_wrong, high_frustration_streak, state, updated_at
		FROM learner_profiles WHERE user_id = ? AND scope = ?`,
		userID, scope,
	).Scan(
		&rec.UserID, &rec.Scope, &rec.Theta, &rec.Frustration, &rec.RecentAccuracy, &rec.Mastery,
		&rec.Attempts, &rec.Correct, &rec.ConsecutiveWrong, &rec.HighFrustrationStreak, &rec.State, &rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &rec, nil
}

// Put inserts or fully replaces the profile row for (user, scope).
func (r *ProfileRepo) Put(ctx context.Context, record *ProfileRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO learner_profiles
			(user_id, scope, theta, frustration, recent_accuracy, mastery,
			attempts, correct, consecutive_wrong, high_frustration_streak, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, scope) DO UPDATE SET
			theta = excluded.theta,
			frustration = excluded.frustration,
			recent_accuracy = excluded.recent_accuracy,
			mastery = excluded.mastery,
			attempts = excluded.attempts,
			correct = excluded.correct,
			consecutive_wrong = excluded.consecutive_wrong,
			high_frustration_streak = excluded.high_frustration_streak,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		record.UserID, record.Scope, record.Theta, record.Frustration, record.RecentAccuracy, record.Mastery,
		record.Attempts, record.Correct, record.ConsecutiveWrong, record.HighFrustrationStreak, record.State,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Delete removes the profile row for (user, scope). Missing rows are not an error.
func (r *ProfileRepo) Delete(ctx context.Context, userID, scope string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM learner_profiles WHERE user_id = ? AND scope = ?", userID, scope,
	)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}
