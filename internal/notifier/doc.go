// Package notifier delivers operator escalations.
//
// Escalations published on the event bus (missed events, unknown external
// state, executor and storage failures) are formatted into short messages and
// sent through a transport.Sender: Telegram when configured, the log otherwise.
//
// Messages are queued, rate limited with a token bucket and retried with
// exponential backoff. Repeats of the same problem (severity, reason, event
// kind and date) are suppressed for the dedup window, so an hourly sweep that
// keeps finding the same miss pages the operator once.
package notifier
