// Package metrics exposes Prometheus metrics for the concierge.
//
// Collector implements conversation.Observer:
//
//	concierge_turns_total{result}
//	concierge_turn_duration_seconds{result}
//	concierge_engine_events_total{kind}      kind: progress, final, error
//	concierge_history_records_total{role}    role: user, agent
//
// Each Collector owns its registry, so tests and multiple gateways in one
// process do not clash. Handler serves the registry for scraping.
package metrics
