// Package admission implements the webhook admission pipeline: challenge
// verification, size and rate admission, signature authenticity, JSON parse,
// recipient filtering, message normalization with in-batch dedup, and locale
// indexing. Nothing before normalization has a processing side effect beyond
// logging and counters.
package admission
