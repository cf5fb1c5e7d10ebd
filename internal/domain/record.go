package domain

import "time"

// RegisterRecord is one journaled register event.
type RegisterRecord struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Type   EventType `json:"type"`
	Device string    `json:"device"`
	Field  string    `json:"field,omitempty"`
	Value  float64   `json:"value"`
	Source Source    `json:"source"`
}
