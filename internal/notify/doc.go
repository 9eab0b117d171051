// Package notify broadcasts new detection records to live subscribers
// with at-most-once, non-blocking delivery. It is a monitoring signal,
// not an audit log; the store is the durable trail.
package notify
