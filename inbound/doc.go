// Package inbound normalizes provider webhooks (call tracking, form
// builders) into core events.
//
// Each provider pairs a Verifier with a Mapper. Verification failures are
// reported as InvalidSignature and never retried; anything the mapper cannot
// understand is reported as UnsupportedPayload and logged with a truncated
// copy of the body. Event ids are derived from the provider's own id so
// redeliveries collapse onto the stored event.
package inbound
