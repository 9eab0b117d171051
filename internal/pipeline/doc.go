// Package pipeline sequences one audio submission through decoding,
// feature extraction, classification, decision, persistence and
// notification. Persistence and notification are independent failure
// domains: after a verdict exists, neither can abort the other.
package pipeline
