// Package store is the append-only persistence gateway for detection
// records, backed by BadgerDB. Writes surface failures to the caller;
// reads are best-effort and degrade to empty results.
package store
