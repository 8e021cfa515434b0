// Package hub owns the queue hub runtime.
//
// Ownership boundary:
// - listener and accept loop
// - one session worker per accepted connection
// - worker registry and reaper
// - optional admin HTTP surface (health, stats, metrics, enqueue)
//
// The hub holds the only queue.Store; colocated clients receive it through
// Service.Store.
package hub
