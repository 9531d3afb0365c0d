package models

const ProtocolVersion = "1.0.0"

type Meta struct {
	ClientTime int64  `json:"client_time"`
	Version    string `json:"version"`
}

// TrackRequest is the body posted to the collector.
type TrackRequest struct {
	Events []Envelope `json:"events"`
	Meta   Meta       `json:"meta"`
}

type Suggestion struct {
	Command    string  `json:"command"`
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

type TrackResult struct {
	Received     int         `json:"received"`
	Valid        int         `json:"valid"`
	Inserted     int         `json:"inserted"`
	ServerTime   int64       `json:"server_time"`
	AISuggestion *Suggestion `json:"ai_suggestion,omitempty"`
}

// TrackResponse is the collector's reply. Data is absent on failure.
type TrackResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    *TrackResult `json:"data,omitempty"`
}
