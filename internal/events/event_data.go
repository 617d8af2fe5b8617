package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// SnapshotRefreshedData contains data for SnapshotRefreshed events
type SnapshotRefreshedData struct {
	Version    string  `json:"version"`
	AsOf       string  `json:"as_of"`
	Assets     int     `json:"assets"`
	Forecasts  int     `json:"forecasts"`
	DurationMs float64 `json:"duration_ms"`
}

// EventType returns the event type for SnapshotRefreshedData
func (d *SnapshotRefreshedData) EventType() EventType {
	return SnapshotRefreshed
}

// SnapshotFailedData contains data for SnapshotFailed events
type SnapshotFailedData struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"` // "empty_history", "forecast", "store"
}

// EventType returns the event type for SnapshotFailedData
func (d *SnapshotFailedData) EventType() EventType {
	return SnapshotFailed
}

// PricesImportedData contains data for PricesImported events
type PricesImportedData struct {
	Rows      int `json:"rows"`
	Stored    int `json:"stored"`
	Assets    int `json:"assets"`
	Anomalies int `json:"anomalies"`
}

// EventType returns the event type for PricesImportedData
func (d *PricesImportedData) EventType() EventType {
	return PricesImported
}

// ArtifactsPrunedData contains data for ArtifactsPruned events
type ArtifactsPrunedData struct {
	Keys    int `json:"keys"`
	Removed int `json:"removed"`
}

// EventType returns the event type for ArtifactsPrunedData
func (d *ArtifactsPrunedData) EventType() EventType {
	return ArtifactsPruned
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// WithData wraps a published event for the wire. The flattened map is
// carried as GenericEventData.
func (e *Event) WithData() *EventWithData {
	out := &EventWithData{
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Module:    e.Module,
	}
	if e.Data != nil {
		out.Data = &GenericEventData{Type: e.Type, Data: e.Data}
	}
	return out
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case SnapshotRefreshed:
		eventData = &SnapshotRefreshedData{}
	case SnapshotFailed:
		eventData = &SnapshotFailedData{}
	case PricesImported:
		eventData = &PricesImportedData{}
	case ArtifactsPruned:
		eventData = &ArtifactsPrunedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	case JobStarted, JobCompleted, JobFailed:
		eventData = &JobStatusData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
