// Package delivery fans finalized tips out to their receivers.
//
// FanOutReceiverTips creates one receiver tip per associated receiver and
// moves the tip to the first escalation level. FanOutFiles produces one
// receiver file per (internal file, receiver) pair in three steps: processing
// placeholders are inserted in a transaction, artifacts are encrypted with
// no transaction open, and the placeholders are completed conditionally in a
// second transaction. Both operations are idempotent and safe to run from
// the periodic job and the post-finalize trigger at the same time.
package delivery
