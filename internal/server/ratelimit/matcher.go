package ratelimit

import "strings"

// unlimited marks an endpoint that is never metered.
var unlimited = EndpointConfig{}

// MatchEndpoint finds the configuration for a request. Exact path matches
// win over prefix matches; a config path ending in "/" matches any request
// under it, so "/projects/" covers "/projects/{id}/run".
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	// The health check must stay reachable for probes regardless of load.
	if path == "/health" && method == "GET" {
		return &unlimited
	}

	for i := range configs {
		if configs[i].Path == path && configs[i].Method == method {
			return &configs[i]
		}
	}

	for i := range configs {
		c := &configs[i]
		if c.Method == method && strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			return c
		}
	}

	return nil
}
