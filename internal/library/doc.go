// Package library coordinates all mutations of the podcast library.
//
// A single manager goroutine owns the mailbox: administrative commands and
// update scheduling are serialized through it, which is what guarantees at
// most one in-flight fetch per feed. Fetches themselves run on worker
// goroutines behind a semaphore so slow hosts cannot monopolize updates,
// and a failing feed never affects its neighbors. Results surface on the
// event bus; callers that need fresh data re-read the store.
package library
