package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager stamps and publishes events on a Bus
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("component", "event_manager").Logger(),
	}
}

// Emit publishes an event of the given type from module
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Emitting event")

	m.bus.Publish(&Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// EmitTyped publishes typed event data. The data is flattened through its
// JSON form so subscribers always see a plain map.
func (m *Manager) EmitTyped(module string, data EventData) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.log.Error().Err(err).Str("event_type", string(data.EventType())).Msg("Failed to encode event data")
		return
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		m.log.Error().Err(err).Str("event_type", string(data.EventType())).Msg("Failed to decode event data")
		return
	}
	m.Emit(data.EventType(), module, fields)
}

// EmitError publishes an ErrorOccurred event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(module, &ErrorEventData{Error: err.Error(), Context: context})
}
