// ABOUTME: Keyword router that picks which sub-agent answers a message
// ABOUTME: Routes are checked in order; the first route with a matching keyword wins

package agent

import (
	"strings"
)

// Route sends messages containing any of Keywords to Agent.
type Route struct {
	Agent    string   `yaml:"agent" toml:"agent"`
	Keywords []string `yaml:"keywords" toml:"keywords"`
}

// DefaultRoutes mirror the customer service team: orders, sales, course
// support and policy questions each have their own sub-agent.
var DefaultRoutes = []Route{
	{Agent: "order_agent", Keywords: []string{"refund", "order", "purchase history"}},
	{Agent: "policy_agent", Keywords: []string{"policy", "terms", "privacy"}},
	{Agent: "course_support_agent", Keywords: []string{"module", "lesson", "stuck", "help with"}},
	{Agent: "sales_agent", Keywords: []string{"buy", "price", "course"}},
}

// Router selects sub-agents by keyword.
type Router struct {
	routes   []Route
	fallback string
}

// NewRouter creates a Router. Messages matching no route go to fallback.
func NewRouter(routes []Route, fallback string) *Router {
	return &Router{
		routes:   routes,
		fallback: fallback,
	}
}

// Select returns the agent that should answer message.
func (r *Router) Select(message string) string {
	lower := strings.ToLower(message)
	for _, route := range r.routes {
		for _, kw := range route.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return route.Agent
			}
		}
	}
	return r.fallback
}
