// ABOUTME: Recorder appends user queries and agent responses to a session's history
// ABOUTME: Each call is one read of the session followed by exactly one state write

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-concierge/internal/store"
)

// ErrEmptyResponse is returned by RecordAgentResponse when there is no text to
// record. Nothing is written in that case.
var ErrEmptyResponse = errors.New("empty agent response")

// Recorder mutates a session's interaction history through a SessionStore.
type Recorder struct {
	store  store.SessionStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the clock used to timestamp records.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a Recorder backed by s.
func NewRecorder(s store.SessionStore, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  s,
		now:    time.Now,
		logger: logger.With("component", "history"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordUserQuery appends a user record with the current time.
// Returns store.ErrSessionNotFound if the session does not exist.
func (r *Recorder) RecordUserQuery(ctx context.Context, ref store.SessionRef, text string) (Record, error) {
	return r.append(ctx, ref, Record{
		Role:      RoleUser,
		Text:      text,
		Timestamp: r.now(),
	})
}

// RecordAgentResponse appends an agent record with the current time.
func (r *Recorder) RecordAgentResponse(ctx context.Context, ref store.SessionRef, agentName, text string) (Record, error) {
	if strings.TrimSpace(text) == "" {
		return Record{}, ErrEmptyResponse
	}
	return r.append(ctx, ref, Record{
		Role:      RoleAgent,
		AgentName: agentName,
		Text:      text,
		Timestamp: r.now(),
	})
}

// History returns the decoded interaction history of a session.
func (r *Recorder) History(ctx context.Context, ref store.SessionRef) ([]Record, error) {
	sess, err := r.store.GetSession(ctx, ref.AppName, ref.UserID, ref.SessionID)
	if err != nil {
		return nil, err
	}
	return Records(sess.State)
}

func (r *Recorder) append(ctx context.Context, ref store.SessionRef, rec Record) (Record, error) {
	sess, err := r.store.GetSession(ctx, ref.AppName, ref.UserID, ref.SessionID)
	if err != nil {
		return Record{}, fmt.Errorf("loading session: %w", err)
	}

	state, err := Append(sess.State, rec)
	if err != nil {
		return Record{}, err
	}

	if err := r.store.UpdateSession(ctx, ref.AppName, ref.UserID, ref.SessionID, state); err != nil {
		return Record{}, fmt.Errorf("saving session: %w", err)
	}

	r.logger.Debug("record appended",
		"session_id", ref.SessionID,
		"role", rec.Role,
		"agent_name", rec.AgentName)
	return rec, nil
}
