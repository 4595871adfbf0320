// Package history maintains the interaction log stored in a session's state.
//
// The log lives under store.HistoryKey as a JSON list. Each entry is a Record:
//
//	{"role": "user", "text": "Hi", "timestamp": "2026-01-02T15:04:05.123Z"}
//	{"role": "agent", "agent_name": "greeter", "text": "Hello!", "timestamp": "..."}
//
// Entries are append-only. Recorder reads the session, appends one entry and
// writes the state back in a single UpdateSession call. Entries already in the
// log are passed through untouched, so fields this package does not know about
// survive.
//
// RecordAgentResponse refuses blank text with ErrEmptyResponse; a turn with no
// final answer never produces an agent entry.
package history
