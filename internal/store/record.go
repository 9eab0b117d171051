package store

import "time"

// DetectionRecord is the durable artifact of one classification event.
// Records are written once and never mutated; corrections require a new
// record. ID is assigned by the store on insert.
type DetectionRecord struct {
	ID         string    `msgpack:"id" json:"_id"`
	UserID     string    `msgpack:"user_id" json:"user_id"`
	Timestamp  time.Time `msgpack:"timestamp" json:"timestamp"`
	AudioPath  string    `msgpack:"audio_path" json:"audio_path"`
	IsUrgent   bool      `msgpack:"is_urgent" json:"is_urgent"`
	Confidence float64   `msgpack:"confidence" json:"confidence"`
}

// DefaultUserID is the sentinel used when a submission carries no user
// identifier.
const DefaultUserID = "default_user"

// Stats aggregates detection counts over a query window.
type Stats struct {
	Total  int `json:"total_detections"`
	Urgent int `json:"urgent_cases"`
	Normal int `json:"normal_cases"`
}
