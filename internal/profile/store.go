package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/storage"
)

// ErrLockTimeout is returned when the per-profile lock could not be acquired
// within the retry budget. This is the only retried condition in the core.
var ErrLockTimeout = errors.New("timed out waiting for profile lock")

// LockConfig bounds lock acquisition on a single (user, scope) key.
type LockConfig struct {
	Timeout time.Duration // per-attempt acquisition timeout
	Retries int           // additional attempts after the first
	Backoff time.Duration // sleep between attempts, grows linearly
}

// DefaultLockConfig returns the default lock budget.
func DefaultLockConfig() LockConfig {
	return LockConfig{Timeout: 500 * time.Millisecond, Retries: 3, Backoff: 50 * time.Millisecond}
}

// Store owns all learner profile mutations. Reads may run fully in parallel;
// mutations on the same (user, scope) key are serialized through a per-key
// lock so correlated fields never interleave. Different keys never share a
// lock.
type Store struct {
	repo        storage.ProfileStore
	lockCfg     LockConfig
	masteryStep float64

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewStore creates a profile store over the given repository.
// masteryStep caps the per-observation mastery movement.
func NewStore(repo storage.ProfileStore, lockCfg LockConfig, masteryStep float64) *Store {
	if masteryStep <= 0 || masteryStep > 1 {
		masteryStep = 0.3
	}
	return &Store{
		repo:        repo,
		lockCfg:     lockCfg,
		masteryStep: masteryStep,
		locks:       make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the profile for (user, scope), creating the neutral
// prior when none exists. This is the only creation path.
func (s *Store) GetOrCreate(ctx context.Context, userID, scope string) (*Profile, error) {
	p, err := s.load(ctx, userID, scope)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	p = New(userID, scope)
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyDelta applies a precomputed delta. It is atomic with respect to
// concurrent callers on the same (user, scope) key. Callers that derive the
// delta from the current profile must use Update instead, so the read and the
// write happen under the same lock hold.
func (s *Store) ApplyDelta(ctx context.Context, userID, scope string, delta Delta) (*Profile, error) {
	return s.Update(ctx, userID, scope, func(*Profile) Delta { return delta })
}

// Update is the read-modify-write path: fn sees the current profile while the
// per-key lock is held, and the delta it returns is applied before the lock is
// released. Concurrent updates on the same key serialize; each fn therefore
// observes the previous update's result. fn must not retain the profile.
func (s *Store) Update(ctx context.Context, userID, scope string, fn func(*Profile) Delta) (*Profile, error) {
	release, err := s.acquire(ctx, userID+"\x00"+scope)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.load(ctx, userID, scope)
	if errors.Is(err, storage.ErrNotFound) {
		p = New(userID, scope)
	} else if err != nil {
		return nil, err
	}

	delta := fn(p)
	if delta.IsZero() {
		return p, nil
	}

	delta.apply(p, s.masteryStep)
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Reset replaces the profile with the neutral prior. Used for explicit user
// resets only.
func (s *Store) Reset(ctx context.Context, userID, scope string) (*Profile, error) {
	release, err := s.acquire(ctx, userID+"\x00"+scope)
	if err != nil {
		return nil, err
	}
	defer release()

	p := New(userID, scope)
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// acquire takes the per-key lock with a bounded number of timed attempts.
func (s *Store) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sem, ok := s.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[key] = sem
	}
	s.mu.Unlock()

	attempts := s.lockCfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * s.lockCfg.Backoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		timer := time.NewTimer(s.lockCfg.Timeout)
		select {
		case sem <- struct{}{}:
			timer.Stop()
			return func() { <-sem }, nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrLockTimeout, attempts)
}

// load reads and decodes a profile row. Malformed persisted state is coerced
// back into bounds; a row whose mastery blob cannot be decoded is reset to
// the neutral prior rather than surfacing an error.
func (s *Store) load(ctx context.Context, userID, scope string) (*Profile, error) {
	rec, err := s.repo.Get(ctx, userID, scope)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		UserID:                rec.UserID,
		Scope:                 rec.Scope,
		Theta:                 rec.Theta,
		Frustration:           rec.Frustration,
		RecentAccuracy:        rec.RecentAccuracy,
		Attempts:              rec.Attempts,
		Correct:               rec.Correct,
		ConsecutiveWrong:      rec.ConsecutiveWrong,
		HighFrustrationStreak: rec.HighFrustrationStreak,
		State:                 State(rec.State),
		UpdatedAt:             rec.UpdatedAt,
	}

	if err := json.Unmarshal([]byte(rec.Mastery), &p.Mastery); err != nil {
		logger := contextutil.LoggerFromContext(ctx)
		logger.WarnContext(ctx, "corrupt mastery data, resetting profile to neutral prior",
			"user_id", userID, "scope", scope, "error", err)
		p = New(userID, scope)
		if err := s.persist(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	p.Clamp()
	return p, nil
}

func (s *Store) persist(ctx context.Context, p *Profile) error {
	mastery, err := json.Marshal(p.Mastery)
	if err != nil {
		return fmt.Errorf("failed to encode mastery map: %w", err)
	}

	rec := &storage.ProfileRecord{
		UserID:                p.UserID,
		Scope:                 p.Scope,
		Theta:                 p.Theta,
		Frustration:           p.Frustration,
		RecentAccuracy:        p.RecentAccuracy,
		Mastery:               string(mastery),
		Attempts:              p.Attempts,
		Correct:               p.Correct,
		ConsecutiveWrong:      p.ConsecutiveWrong,
		HighFrustrationStreak: p.HighFrustrationStreak,
		State:                 string(p.State),
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		return err
	}
	return nil
}
