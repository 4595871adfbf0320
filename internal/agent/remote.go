// ABOUTME: HTTP client engine for agent runtimes that stream events over SSE
// ABOUTME: POSTs the query to {url}/run and converts each frame into an Event

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const remoteEngineName = "remote engine"

// RemoteEngine runs queries against an HTTP agent runtime.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRemoteEngine creates a RemoteEngine for the runtime at baseURL. A nil
// client uses http.DefaultClient.
func NewRemoteEngine(baseURL string, client *http.Client, logger *slog.Logger) *RemoteEngine {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "remote-engine"),
	}
}

// Run submits the query and streams the runtime's events.
func (e *RemoteEngine) Run(ctx context.Context, req *RunRequest) (<-chan *Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &StreamError{Engine: remoteEngineName, Message: "sending request", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &StreamError{Engine: remoteEngineName, Message: readErrorBody(resp)}
	}

	ch := make(chan *Event)
	go e.stream(ctx, resp.Body, ch)
	return ch, nil
}

// stream decodes frames until EOF, an error frame, or cancellation.
func (e *RemoteEngine) stream(ctx context.Context, body io.ReadCloser, ch chan<- *Event) {
	defer close(ch)
	defer body.Close()

	var invocationID string
	errStop := errors.New("stop")

	err := scanSSE(ctx, body, func(eventType, data string) error {
		switch eventType {
		case SSEEventEvent:
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return &StreamError{Engine: remoteEngineName, Message: "malformed event", Err: err}
			}
			invocationID = ev.InvocationID
			if !send(ctx, ch, &ev) {
				return ctx.Err()
			}
		case SSEEventError:
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
				payload.Error = data
			}
			send(ctx, ch, errorEvent(invocationID, &StreamError{Engine: remoteEngineName, Message: payload.Error}))
			return errStop
		default:
			e.logger.Debug("ignoring unknown sse event", "event", eventType)
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errStop):
	case ctx.Err() != nil:
		// Caller gave up; nobody is reading.
	default:
		var streamErr *StreamError
		if !errors.As(err, &streamErr) {
			streamErr = &StreamError{Engine: remoteEngineName, Message: "reading stream", Err: err}
		}
		send(ctx, ch, errorEvent(invocationID, streamErr))
	}
}

func readErrorBody(resp *http.Response) string {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return msg
			}
		}
	}
	return fmt.Sprintf("server returned status %d", resp.StatusCode)
}
