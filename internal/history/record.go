// ABOUTME: Interaction record types persisted in a session's interaction history
// ABOUTME: Append and decode helpers over the raw JSON-shaped state bag

package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/2389/coven-concierge/internal/store"
)

// Role tags which side of the conversation produced a record.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TimestampFormat is the layout of the timestamp field in stored records.
const TimestampFormat = time.RFC3339Nano

// ErrMalformedHistory is returned when the interaction history in a session's
// state is not a list of records.
var ErrMalformedHistory = errors.New("malformed interaction history")

// Record is one entry in the interaction history. AgentName is only set on
// agent records.
type Record struct {
	Role      Role      `json:"role" mapstructure:"role"`
	AgentName string    `json:"agent_name,omitempty" mapstructure:"agent_name"`
	Text      string    `json:"text" mapstructure:"text"`
	Timestamp time.Time `json:"timestamp" mapstructure:"timestamp"`
}

// toMap renders the record in the shape it is stored in.
func (r Record) toMap() map[string]any {
	m := map[string]any{
		"role":      string(r.Role),
		"text":      r.Text,
		"timestamp": r.Timestamp.Format(TimestampFormat),
	}
	if r.Role == RoleAgent {
		m["agent_name"] = r.AgentName
	}
	return m
}

// Append adds rec to the end of the interaction history held in state and
// returns state. Existing entries are carried over as-is.
func Append(state map[string]any, rec Record) (map[string]any, error) {
	if state == nil {
		state = map[string]any{}
	}

	var entries []any
	switch h := state[store.HistoryKey].(type) {
	case nil:
		entries = []any{}
	case []any:
		entries = h
	default:
		return nil, fmt.Errorf("%w: got %T", ErrMalformedHistory, h)
	}

	state[store.HistoryKey] = append(entries, rec.toMap())
	return state, nil
}

// Records decodes the interaction history held in state. A state without a
// history yields no records.
func Records(state map[string]any) ([]Record, error) {
	raw, ok := state[store.HistoryKey]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrMalformedHistory, raw)
	}

	records := make([]Record, 0, len(entries))
	for i, entry := range entries {
		var rec Record
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeHookFunc(TimestampFormat),
			Result:     &rec,
		})
		if err != nil {
			return nil, fmt.Errorf("creating decoder: %w", err)
		}
		if err := decoder.Decode(entry); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedHistory, i, err)
		}
		if rec.Role != RoleUser && rec.Role != RoleAgent {
			return nil, fmt.Errorf("%w: entry %d has role %q", ErrMalformedHistory, i, rec.Role)
		}
		records = append(records, rec)
	}
	return records, nil
}
