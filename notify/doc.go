// Package notify turns events into per-user notifications.
//
// The Resolver walks the preference chain (user,type), (user,*), (*,type),
// (*,*) and finally the configured defaults. The Service creates one
// Notification row per recipient and either sends it right away, defers it
// past the recipient's quiet hours, or leaves it for the digest scheduler.
package notify
