// Package catalog validates and stores context and receiver configuration.
//
// Invalid configuration is rejected here, before it reaches the store: a
// context whose submission window outlives its tip window, a receipt pattern
// that cannot produce receipts, duplicate field keys, or a receiver whose age
// recipient does not parse. Operators load configuration from a TOML seed
// file through Apply.
package catalog
