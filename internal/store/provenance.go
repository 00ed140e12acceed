package store

import "time"

// Provenance records which vector backs a post and how it was produced.
type Provenance struct {
	VectorID   string    `json:"vectorId"`
	Dimension  int       `json:"dimension"`
	ModelName  string    `json:"modelName"`
	EmbeddedAt time.Time `json:"embeddedAt"`
}
