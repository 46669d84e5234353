// Package webhooks delivers events to tenant webhook endpoints.
//
// Each endpoint owns a bounded FIFO queue drained by up to max_in_flight
// workers. Attempts are persisted before they are queued, so a crash or a
// full queue only delays delivery: the recovery sweep re-queues pending rows.
package webhooks
