// Package digest periodically aggregates daily and weekly notifications into
// one summary per user.
//
// A single coordinator, elected through a core.Locker, runs each tick: it
// sends due deferred notifications, plans which users passed their send
// boundary, and fans the per-user work out to a bounded worker pool or to a
// job queue. Batches are unique per (user, period, window end) and notifications are
// tagged in the same transaction that marks the batch sent, so re-running a
// tick never sends the same digest twice.
package digest
