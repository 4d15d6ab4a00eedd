// Package server binds the relay hub to gorilla/websocket connections and
// serves the HTTP surface: the WebSocket endpoint, a health check, and the
// static client files.
//
// Each connection is represented by a Client that implements relay.Conn. The
// client's read pump reports messages and disconnects to the hub; its write
// pump drains a bounded send queue so that a slow peer never blocks a
// broadcast.
package server
