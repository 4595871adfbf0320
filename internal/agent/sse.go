// ABOUTME: Server-Sent Events framing used by the remote engine protocol
// ABOUTME: Writes event/data frames and scans them back off a response body

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SSE event names of the remote engine protocol.
const (
	SSEEventEvent = "event"
	SSEEventError = "error"
)

// FormatSSE formats an SSE frame:
// "event: <type>\ndata: <data>\n\n"
func FormatSSE(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// WriteSSE JSON-encodes v and writes it as one SSE frame.
func WriteSSE(w io.Writer, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling sse data: %w", err)
	}
	_, err = io.WriteString(w, FormatSSE(eventType, string(data)))
	return err
}

// scanSSE reads frames from body and calls handle for each complete one.
// It returns when body is exhausted, handle fails, or ctx is done.
func scanSSE(ctx context.Context, body io.Reader, handle func(eventType, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				if err := handle(eventType, strings.Join(dataLines, "\n")); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
	}

	return scanner.Err()
}
