// Package server implements the HTTP and WebSocket front end of roomchat.
//
// It authenticates and upgrades connections, adapts them to chat sessions,
// tracks the sessions for shutdown, and serves membership queries. The
// broadcast semantics live in package chat.
package server
