// Package event defines the Event record that flows through every layer
// of the stream engine: registry, upcast pipeline, data store, session
// and fold host.
package event

import (
	"encoding/json"
	"time"
)

// ActionMetadata carries who/when/correlation/causation information for
// one committed event, per spec.md §3.1.
type ActionMetadata struct {
	PerformedBy   string    `json:"performedBy,omitempty"`
	PerformedAt   time.Time `json:"performedAt,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

// Event is one record in an append-only stream. EventVersion is assigned
// by the stream engine at commit time and equals the event's index in the
// logical stream; it is immutable once committed.
type Event struct {
	EventType         string
	EventVersion      int64
	SchemaVersion     int
	ExternalSequencer *string
	Payload           []byte
	ActionMetadata    *ActionMetadata
	Metadata          map[string]string
}

// wireEvent mirrors spec.md §6's envelope: camelCase field names, payload
// carried as a nested JSON-encoded string rather than base64 bytes.
type wireEvent struct {
	EventType         string            `json:"eventType"`
	EventVersion      int64             `json:"eventVersion"`
	SchemaVersion     int               `json:"schemaVersion"`
	ExternalSequencer *string           `json:"externalSequencer"`
	Payload           string            `json:"payload"`
	ActionMetadata    *ActionMetadata   `json:"actionMetadata,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON implements the envelope of spec.md §6.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		EventType:         e.EventType,
		EventVersion:      e.EventVersion,
		SchemaVersion:     e.SchemaVersion,
		ExternalSequencer: e.ExternalSequencer,
		Payload:           string(e.Payload),
		ActionMetadata:    e.ActionMetadata,
		Metadata:          e.Metadata,
	})
}

// UnmarshalJSON implements the envelope of spec.md §6.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EventType = w.EventType
	e.EventVersion = w.EventVersion
	e.SchemaVersion = w.SchemaVersion
	e.ExternalSequencer = w.ExternalSequencer
	e.Payload = []byte(w.Payload)
	e.ActionMetadata = w.ActionMetadata
	e.Metadata = w.Metadata
	return nil
}

// Clone returns a deep copy so callers can freely mutate their copy
// without aliasing the store's internal state.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = append([]byte(nil), e.Payload...)
	}
	if e.ExternalSequencer != nil {
		v := *e.ExternalSequencer
		out.ExternalSequencer = &v
	}
	if e.ActionMetadata != nil {
		m := *e.ActionMetadata
		out.ActionMetadata = &m
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
