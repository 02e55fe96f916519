// Package events is the core's audit trail: typed event constants for
// every sync, repricing, probe and scheduler outcome, emitted as
// structured log lines.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// EventType labels the audit events the core emits.
type EventType string

const (
	SyncStarted        EventType = "SYNC_STARTED"
	SyncCompleted      EventType = "SYNC_COMPLETED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
	RepriceApplied     EventType = "REPRICE_APPLIED"
	RepriceConstrained EventType = "REPRICE_CONSTRAINED_BY_FLOOR"
	ProbeCompleted     EventType = "PROBE_COMPLETED"
	RateLimitUpdated   EventType = "RATE_LIMIT_UPDATED"
	TaskSkipped        EventType = "TASK_SKIPPED"
)

// Event is one audit-trail entry.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: logger.Component(log, "events"),
	}
}

// Emit emits an event. ErrorOccurred events log at error level so they
// survive level filtering; everything else is informational.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	line := m.log.Info()
	if eventType == ErrorOccurred {
		line = m.log.Error()
	}

	eventJSON, _ := json.Marshal(event)
	line.
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
