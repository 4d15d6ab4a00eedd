// Package relay implements the broadcast core of the chat relay: the connection
// registry, message enrichment, image link detection, and the Hub that fans
// enriched events out to every open connection.
//
// The package knows nothing about WebSockets. A transport registers each
// client channel as a Conn and reports connect, message, and disconnect
// events to the Hub.
package relay
