// Package conversation turns user text into recorded conversational turns.
//
// # Overview
//
// The package sits between the presentation layer (HTTP gateway, chat shell)
// and the agent engine. It owns the turn algorithm and nothing else: session
// state lives in the store, the interaction log is maintained by the history
// package, and answers come from an agent.Engine.
//
// # Service
//
//	svc := conversation.New(sessionStore, engine, logger,
//	    conversation.WithBroadcaster(broadcaster),
//	    conversation.WithObserver(collector))
//
// Key operations:
//
//   - StartSession(ctx, userID): create a session from the initial state
//   - HandleTurn(ctx, ref, text): run one turn and return its Outcome
//   - Session(ctx, ref), History(ctx, ref), ListSessions(ctx, userID)
//   - Subscribe(ctx, ref): follow records as they are written
//
// # Turn Flow
//
//  1. Record the user query (before the engine runs)
//  2. Run the engine and fold its events with Reduce
//  3. Record the answer when it has both text and an author
//  4. Return the Outcome; an empty Outcome is not an error
//
// Engine errors propagate unmodified and are never retried. The query record
// stays in the history either way.
//
// Turns on the same session never overlap: HandleTurn waits for the previous
// turn on that session to finish, or for ctx to end.
//
// # Reduction
//
// Reduce is a sequential fold over the event channel. A non-empty author
// always replaces the previous one. A terminal event whose first part has
// non-blank text replaces the answer (trimmed). Blank or non-text terminal
// events are ignored. The fold ends only when the engine closes the channel,
// an event carries an error, or ctx is done.
//
// # Broadcasting
//
// Broadcaster is an in-memory fan-out keyed by session. Publishing never
// blocks; slow subscribers drop updates once their 64-entry buffer is full.
package conversation
