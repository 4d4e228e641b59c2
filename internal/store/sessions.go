package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recall-ai/internal/models"
)

// Sessions is the single entry point for session lifecycle. Only GetOrCreate
// may bring a session into existence; everything else fails with
// ErrInvalidSession for an unknown id.
//
// There is no per-session lock. Two concurrent Update calls for the same id
// both load, mutate and save, and the later save wins.
type Sessions struct {
	store    Store
	defaults models.TTSPreferences
	now      func() time.Time
}

func NewSessions(store Store, defaults models.TTSPreferences) *Sessions {
	return &Sessions{
		store:    store,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Sessions) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the manager's current time.
func (m *Sessions) Now() time.Time {
	return m.now()
}

// GetOrCreate returns the session for id, creating it with empty defaults when
// it does not exist yet. An empty id always creates a fresh session. The bool
// result reports whether this call created the session.
func (m *Sessions) GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error) {
	if id != "" {
		sess, err := m.store.Get(ctx, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, fmt.Errorf("load session: %w", err)
		}
	} else {
		id = uuid.NewString()
	}

	sess := models.NewSession(id, m.now(), m.defaults)
	if err := m.store.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrExists) {
			existing, getErr := m.store.Get(ctx, id)
			if getErr != nil {
				return nil, false, fmt.Errorf("load session: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return sess, true, nil
}

// Get returns an existing session or ErrInvalidSession.
func (m *Sessions) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrInvalidSession
	}
	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Update loads a session, applies fn and saves the result. If fn returns an
// error nothing is written and the error is returned unchanged.
func (m *Sessions) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := m.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save writes a session previously obtained from this manager.
func (m *Sessions) Save(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = m.now()
	if err := m.store.Update(ctx, sess); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidSession
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Sessions) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}
