// Package notifications tells receivers about lifecycle events and alerts
// the operator about failures.
//
// The Scheduler drains three queues on every tick: new receiver tips, new
// comments, and completed receiver files. Each row is claimed with a
// conditional update before any mail is sent, so concurrent ticks never mail
// the same event twice. Mail goes through the Mailer interface; SMTPMailer is
// used when an SMTP host is configured and NopMailer otherwise. Receivers
// that ask for encrypted notifications and hold a usable key receive
// ASCII-armored age ciphertext instead of the plain body.
//
// Operator alerts are published to ntfy by the Alerter returned from
// NewAlerter, which degrades to a no-op when no topic is configured.
package notifications
