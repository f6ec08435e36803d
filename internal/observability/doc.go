// Package observability provides the engine's event log, metrics derived
// from it, alert evaluation, Slack notifications and Prometheus collectors.
// Events are persisted as JSON Lines and metrics are computed on demand.
package observability
