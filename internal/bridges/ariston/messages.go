package ariston

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MQTT message types exchanged between the bridge and home-automation
// clients.

// CommandMessage asks the bridge to change one or more parameters.
// Topic: ariston/command/{bridge}/set
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated by the
	// bridge when empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// Parameters maps parameter names to requested values, for example
	// {"dhw_set_temperature": 48} or {"mode": "Winter"}.
	Parameters map[string]any `json:"parameters"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus is the overall outcome of a command.
type AckStatus string

const (
	// AckAccepted means every parameter was written or already in effect.
	AckAccepted AckStatus = "accepted"

	// AckPartial means some parameters succeeded and some failed.
	AckPartial AckStatus = "partial"

	// AckFailed means no parameter was written.
	AckFailed AckStatus = "failed"
)

// AckMessage reports the outcome of a command.
// Topic: ariston/ack/{bridge}/{command_id}
type AckMessage struct {
	CommandID string               `json:"command_id"`
	Timestamp time.Time            `json:"timestamp"`
	Status    AckStatus            `json:"status"`
	Results   map[string]AckResult `json:"results"`
}

// AckResult is the outcome for one requested parameter name.
type AckResult struct {
	OK    bool      `json:"ok"`
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for a failed parameter.
type AckError struct {
	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeUnknownParameter  = "UNKNOWN_PARAMETER"
	ErrCodeReadOnly          = "READ_ONLY"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeStaleWrite        = "STALE_WRITE"
	ErrCodeAuthentication    = "AUTHENTICATION_FAILED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeNotRunning        = "NOT_RUNNING"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps a set pipeline error to its ack error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return ErrCodeInvalidValue
	case errors.Is(err, ErrUnknownParameter):
		return ErrCodeUnknownParameter
	case errors.Is(err, ErrReadOnly):
		return ErrCodeReadOnly
	case errors.Is(err, ErrUnsupportedParameter):
		return ErrCodeNotSupported
	case errors.Is(err, ErrStaleWrite):
		return ErrCodeStaleWrite
	case errors.Is(err, ErrAuthentication):
		return ErrCodeAuthentication
	case errors.Is(err, ErrNotRunning):
		return ErrCodeNotRunning
	case errors.Is(err, ErrTransport):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage carries the current entry of one parameter.
// Topic: ariston/state/{bridge}/{key}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Bridge    string    `json:"bridge"`
	Parameter string    `json:"parameter"`
	Timestamp time.Time `json:"timestamp"`
	Entry     Entry     `json:"entry"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: ariston/health/{bridge}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Engine is the engine lifecycle state.
	Engine string `json:"engine,omitempty"`

	// PlantID is the resolved gateway, empty before the first login.
	PlantID string `json:"plant_id,omitempty"`

	Parameters int            `json:"parameters"`
	Statistics *EngineMetrics `json:"statistics,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// UnmarshalJSON accepts a missing or RFC3339 timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage builds the acknowledgment for a command from its results.
func NewAckMessage(commandID string, results SetResults) AckMessage {
	msg := AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Results:   make(map[string]AckResult, len(results)),
	}

	ok := 0
	for name, err := range results {
		if err == nil {
			msg.Results[name] = AckResult{OK: true}
			ok++
			continue
		}
		msg.Results[name] = AckResult{Error: &AckError{Code: ErrorCode(err), Message: err.Error()}}
	}

	switch {
	case ok == len(results):
		msg.Status = AckAccepted
	case ok == 0:
		msg.Status = AckFailed
	default:
		msg.Status = AckPartial
	}
	return msg
}

// NewAckError builds a failed acknowledgment for a command that could not be
// processed at all.
func NewAckError(commandID, code, message string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Status:    AckFailed,
		Results: map[string]AckResult{
			"": {Error: &AckError{Code: code, Message: message}},
		},
	}
}

// NewStateMessage creates a state message for one parameter.
func NewStateMessage(bridgeID, key string, entry Entry) StateMessage {
	return StateMessage{
		Bridge:    bridgeID,
		Parameter: key,
		Timestamp: time.Now().UTC(),
		Entry:     entry,
	}
}

// TopicPrefix is the base topic for all bridge messages.
const TopicPrefix = "ariston"

// CommandTopic returns the set command topic.
// Example: ariston/command/boiler/set
func CommandTopic(bridgeID string) string {
	return fmt.Sprintf("%s/command/%s/set", TopicPrefix, bridgeID)
}

// AckTopic returns the acknowledgment topic for a command.
// Example: ariston/ack/boiler/3f2a...
func AckTopic(bridgeID, commandID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, bridgeID, commandID)
}

// StateTopic returns the state topic for a parameter key.
// Example: ariston/state/boiler/ch_mode_zone1
func StateTopic(bridgeID, key string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, bridgeID, key)
}

// HealthTopic returns the health topic.
// Example: ariston/health/boiler
func HealthTopic(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}
