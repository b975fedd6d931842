package server

import (
	"net/http"
	"strings"
)

// GatewayHTTP defines the minimal surface the lifecycle router needs from the
// request dispatcher to serve HTTP traffic.
type GatewayHTTP interface {
	ServeRequest(http.ResponseWriter, *http.Request)
	ServeControl(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
}

// NewGatewayHandler wires the HTTP routing facade to the dispatcher so the
// lifecycle server owns URL dispatch without embedding routing logic into the
// gateway itself. The control channel and health endpoint are carved out of the
// intercepted path space; every other request is dispatched through the
// strategy executors.
func NewGatewayHandler(g GatewayHTTP) http.Handler {
	if g == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch controlRoute(r.URL.Path) {
		case "control":
			g.ServeControl(w, r)
		case "healthz":
			g.ServeHealth(w, r)
		default:
			g.ServeRequest(w, r)
		}
	})
}

// controlRoute recognizes the reserved gateway endpoints. Anything else is
// ordinary intercepted traffic, including paths that merely share a prefix
// with the reserved names.
func controlRoute(path string) string {
	switch strings.ToLower(strings.Trim(path, "/")) {
	case "control":
		return "control"
	case "health", "healthz":
		return "healthz"
	}
	return ""
}
