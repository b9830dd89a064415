// Package observability provides the operational logger, the domain event
// log, and the metrics and alerts derived from it. Domain events are stored
// as JSON Lines and aggregated on demand.
package observability
