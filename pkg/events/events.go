// Package events publishes audit events for movement configuration changes.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	MovementCreated  = "movement.created"
	MovementDeleted  = "movement.deleted"
	ChainAttached    = "movement.chain_attached"
	ChainDetached    = "movement.chain_detached"
	StepActivated    = "movement.step_activated"
	StepDeactivated  = "movement.step_deactivated"
	FileMonitored    = "movement.file_monitoring_changed"
	FileNamesChanged = "movement.file_names_changed"
	RuleAdded        = "movement.rule_added"
	RuleRemoved      = "movement.rule_removed"
)

// Event describes one committed configuration change.
type Event struct {
	Type         string     `json:"type"`
	MovementID   uuid.UUID  `json:"movement_id"`
	MovementCode string     `json:"movement_code"`
	Version      int        `json:"version"`
	Actor        string     `json:"actor"`
	ChainID      *uuid.UUID `json:"chain_id,omitempty"`
	StepID       *uuid.UUID `json:"step_id,omitempty"`
	StepFileID   *uuid.UUID `json:"step_file_id,omitempty"`
	RuleID       *uuid.UUID `json:"rule_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	TraceID      string     `json:"trace_id,omitempty"`
}

// Publisher delivers events after the change they describe has been committed.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
	Close() error
}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, evt *Event) error { return nil }
func (NoopPublisher) Close() error { return nil }
