// Package server implements the HTTP API: audio submission, detection
// history queries, live websocket notifications, and monitoring
// endpoints.
package server
