// ABOUTME: Service drives one conversational turn from user text to recorded answer
// ABOUTME: History is the source of truth: the query is recorded before the engine ever runs

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/history"
	"github.com/2389/coven-concierge/internal/store"
)

// DefaultAppName scopes sessions when no app name is configured.
const DefaultAppName = "Customer Support"

// DefaultUserName is the user_name new sessions start with.
const DefaultUserName = "Rishiraj Bal"

// Turn results reported to the Observer.
const (
	ResultResponded   = "responded"
	ResultEmpty       = "empty"
	ResultEngineError = "engine_error"
	ResultStoreError  = "store_error"
	ResultCancelled   = "cancelled"
)

// Observer receives measurements about turns. metrics.Collector implements it.
type Observer interface {
	TurnCompleted(result string, elapsed time.Duration)
	EngineEvent(ev *agent.Event)
	RecordWritten(role history.Role)
}

type nopObserver struct{}

func (nopObserver) TurnCompleted(string, time.Duration) {}
func (nopObserver) EngineEvent(*agent.Event)            {}
func (nopObserver) RecordWritten(history.Role)          {}

// Service is the turn orchestrator. It owns no state of its own; sessions live
// in the store and answers come from the engine.
type Service struct {
	sessions     store.SessionStore
	recorder     *history.Recorder
	engine       agent.Engine
	broadcaster  *Broadcaster
	observer     Observer
	appName      string
	initialState map[string]any
	turns        *sessionLocks
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*serviceConfig)

type serviceConfig struct {
	appName      string
	initialState map[string]any
	broadcaster  *Broadcaster
	observer     Observer
	recorderOpts []history.Option
}

// WithAppName sets the app name sessions are scoped under.
func WithAppName(name string) Option {
	return func(c *serviceConfig) {
		c.appName = name
	}
}

// WithInitialState sets the state new sessions start with.
func WithInitialState(state map[string]any) Option {
	return func(c *serviceConfig) {
		c.initialState = state
	}
}

// WithBroadcaster publishes every recorded entry to b.
func WithBroadcaster(b *Broadcaster) Option {
	return func(c *serviceConfig) {
		c.broadcaster = b
	}
}

// WithObserver reports turn measurements to o.
func WithObserver(o Observer) Option {
	return func(c *serviceConfig) {
		c.observer = o
	}
}

// WithRecorderOptions passes options through to the history recorder.
func WithRecorderOptions(opts ...history.Option) Option {
	return func(c *serviceConfig) {
		c.recorderOpts = append(c.recorderOpts, opts...)
	}
}

// DefaultInitialState is the state of a fresh session.
func DefaultInitialState() map[string]any {
	return map[string]any{
		"user_name":         DefaultUserName,
		"purchased_courses": []any{},
		store.HistoryKey:    []any{},
	}
}

// New creates a Service.
func New(sessions store.SessionStore, engine agent.Engine, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := &serviceConfig{
		appName:      DefaultAppName,
		initialState: DefaultInitialState(),
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Service{
		sessions:     sessions,
		recorder:     history.NewRecorder(sessions, logger, cfg.recorderOpts...),
		engine:       engine,
		broadcaster:  cfg.broadcaster,
		observer:     cfg.observer,
		appName:      cfg.appName,
		initialState: cfg.initialState,
		turns:        newSessionLocks(),
		logger:       logger.With("component", "conversation"),
	}
}

// AppName returns the app name sessions are scoped under.
func (s *Service) AppName() string {
	return s.appName
}

// Ref addresses a session of userID in this service's app.
func (s *Service) Ref(userID, sessionID string) store.SessionRef {
	return store.SessionRef{AppName: s.appName, UserID: userID, SessionID: sessionID}
}

// StartSession creates a session for userID from the configured initial state.
// The interaction history always starts empty.
func (s *Service) StartSession(ctx context.Context, userID string) (*store.Session, error) {
	state := make(map[string]any, len(s.initialState)+1)
	for k, v := range s.initialState {
		state[k] = v
	}
	state[store.HistoryKey] = []any{}

	sess, err := s.sessions.CreateSession(ctx, s.appName, userID, state)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session started",
		"session_id", sess.ID,
		"user_id", userID)
	return sess, nil
}

// Session returns the current state of a session.
func (s *Service) Session(ctx context.Context, ref store.SessionRef) (*store.Session, error) {
	return s.sessions.GetSession(ctx, ref.AppName, ref.UserID, ref.SessionID)
}

// ListSessions returns userID's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	return s.sessions.ListSessions(ctx, s.appName, userID)
}

// History returns a session's interaction history.
func (s *Service) History(ctx context.Context, ref store.SessionRef) ([]history.Record, error) {
	return s.recorder.History(ctx, ref)
}

// Subscribe follows records written to a session. Returns nil when the
// service has no broadcaster.
func (s *Service) Subscribe(ctx context.Context, ref store.SessionRef) (<-chan *Update, string) {
	if s.broadcaster == nil {
		return nil, ""
	}
	return s.broadcaster.Subscribe(ctx, ref)
}

// HandleTurn runs one turn: record the query, run the engine, fold its events
// and record the answer.
//
// Key principle: Record first, then act. The query is in the history even if
// the engine fails or the caller gives up. The answer is recorded only when
// the engine produced both final text and an author. Engine errors are
// returned unmodified and never retried.
//
// Turns on the same session run one at a time, so each turn's records are
// appended to the history it read. A turn waiting for the session returns
// ctx.Err() if ctx ends first.
func (s *Service) HandleTurn(ctx context.Context, ref store.SessionRef, text string) (Outcome, error) {
	start := time.Now()
	outcome, result, err := s.handleTurn(ctx, ref, text)
	elapsed := time.Since(start)
	s.observer.TurnCompleted(result, elapsed)

	logger := s.logger.With("session_id", ref.SessionID, "user_id", ref.UserID, "result", result, "elapsed", elapsed)
	switch result {
	case ResultResponded:
		logger.Info("turn completed", "agent_name", outcome.AgentName)
	case ResultEmpty:
		logger.Info("turn completed without a response")
	case ResultCancelled:
		logger.Debug("turn abandoned", "error", err)
	default:
		logger.Error("turn failed", "error", err)
	}
	return outcome, err
}

func (s *Service) handleTurn(ctx context.Context, ref store.SessionRef, text string) (Outcome, string, error) {
	unlock, err := s.turns.lock(ctx, ref.Key())
	if err != nil {
		return Outcome{}, ResultCancelled, err
	}
	defer unlock()

	// 1. Record the query FIRST
	if err := s.record(ref, func() (history.Record, error) {
		return s.recorder.RecordUserQuery(ctx, ref, text)
	}); err != nil {
		return Outcome{}, ResultStoreError, fmt.Errorf("recording user query: %w", err)
	}

	// 2. Run the engine and fold its events
	events, err := s.engine.Run(ctx, &agent.RunRequest{
		UserID:    ref.UserID,
		SessionID: ref.SessionID,
		Message:   text,
	})
	if err != nil {
		return Outcome{}, failureResult(ctx), err
	}

	outcome, err := Reduce(ctx, events, OnEvent(s.observer.EngineEvent))
	if err != nil {
		return Outcome{}, failureResult(ctx), err
	}
	// The caller is gone; the answer must not be recorded
	if err := ctx.Err(); err != nil {
		return Outcome{}, ResultCancelled, err
	}

	if outcome.Empty() {
		return outcome, ResultEmpty, nil
	}
	if outcome.AgentName == "" {
		s.logger.Warn("final answer has no author, not recording it", "session_id", ref.SessionID)
		return outcome, ResultResponded, nil
	}

	// 3. Record the answer
	if err := s.record(ref, func() (history.Record, error) {
		return s.recorder.RecordAgentResponse(ctx, ref, outcome.AgentName, outcome.Text)
	}); err != nil {
		return Outcome{}, ResultStoreError, fmt.Errorf("recording agent response: %w", err)
	}

	return outcome, ResultResponded, nil
}

// record runs one recorder call and announces the entry it wrote.
func (s *Service) record(ref store.SessionRef, write func() (history.Record, error)) error {
	rec, err := write()
	if err != nil {
		return err
	}
	s.observer.RecordWritten(rec.Role)
	if s.broadcaster != nil {
		s.broadcaster.Publish(ref, &Update{SessionID: ref.SessionID, Record: rec}, "")
	}
	return nil
}

func failureResult(ctx context.Context) string {
	if ctx.Err() != nil {
		return ResultCancelled
	}
	return ResultEngineError
}
