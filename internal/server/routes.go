// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes configures the WebSocket endpoint, the health check, and static
// files from the gateway's public directory.
func SetupRoutes(g *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.WebSocketHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/", http.FileServer(http.Dir(g.cfg.PublicDir)))
	return mux
}
