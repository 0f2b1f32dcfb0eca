// Package receipt generates and verifies whistleblower receipts.
//
// A receipt is a random string drawn from a context's receipt pattern. Only
// its scrypt hash, keyed by the node salt, is ever persisted; the plaintext is
// handed to the whistleblower once and cannot be recovered afterwards.
package receipt
