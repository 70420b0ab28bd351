// Package dispatch claims admitted messages and runs them through routing
// and the in-process business handler. Claims are store-arbitrated so
// provider retries dedupe across processes; the handler race has no true
// cancellation, the loser's result is discarded.
package dispatch
