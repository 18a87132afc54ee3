// Package storage is the local half of the dispatch boundary: it keeps a
// notification log and the event records the daemon re-arms at startup.
//
// It currently supports:
//   - Notification appends and retention pruning
//   - Event upserts used by the local derived-event creator
package storage
