// Package server exposes the HTTP surface of the service: monitoring and
// transcript endpoints, Prometheus metrics, and a websocket stream of live
// transcription updates per session.
package server
