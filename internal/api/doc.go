// Package api exposes the daemon's HTTP surface: the Telegram webhook,
// health checks and the Prometheus metrics endpoint.
package api
