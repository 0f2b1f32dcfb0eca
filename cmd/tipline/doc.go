// Package main hosts the tipline CLI entrypoint and command graph.
//
// Commands open the same runtime the daemon uses, so operators can seed the
// catalog, inspect tips, and drive delivery, notification, and cleaning
// passes by hand. Running them while tiplined is up is safe: every pass is
// idempotent and claims work through the store.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
