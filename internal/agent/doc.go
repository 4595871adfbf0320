// Package agent defines the contract between the concierge and an agent runtime.
//
// # Events
//
// An Engine answers one query with a channel of *Event values in the order the
// runtime produced them. An event may name the agent that produced it
// (Author), may carry multi-part Content, and may be flagged Final. Runtimes
// with sub-agents typically emit progress events from a root agent, a transfer
// call, and a final event from the sub-agent that answered.
//
// The channel is closed when the query settles. A failure mid-stream arrives as
// one last event with Err set, usually a *StreamError.
//
// # Engines
//
//   - EchoEngine: in-process, deterministic. A keyword Router picks the
//     sub-agent, which replies with formatted echo text.
//   - RemoteEngine: HTTP client for a runtime that speaks the SSE protocol.
//
// # Remote Protocol
//
// The client POSTs a RunRequest as JSON to {url}/run with
// Accept: text/event-stream. The server answers with frames:
//
//	event: event
//	data: {"id":"...","author":"greeter","content":{"parts":[{"text":"Hello!"}]},"final":true}
//
//	event: error
//	data: {"error":"model unavailable"}
//
// EOF ends the stream. Handler serves any Engine over this protocol.
package agent
