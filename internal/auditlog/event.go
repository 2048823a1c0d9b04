package auditlog

import (
	"encoding/json"
	"time"
)

// EventType classifies audit events: tool invocations, session
// lifecycle, credential issuance and revocation, and policy decisions.
// The start and stop commands emit the session and credential.issue
// types; no caller in this module emits the others. Narrower than a
// full enterprise audit taxonomy since this core has no
// network/DNS/LLM-proxy/Falco/recording subsystems to emit events for.
type EventType string

const (
	EventSessionStart EventType = "session.start"
	EventSessionStop  EventType = "session.stop"

	EventToolInvoke EventType = "tool.invoke"
	EventToolDeny   EventType = "tool.deny"

	EventCredentialIssue  EventType = "credential.issue"
	EventCredentialRevoke EventType = "credential.revoke"

	EventPolicyAllow EventType = "policy.allow"
	EventPolicyDeny  EventType = "policy.deny"
)

// Severity levels for audit events, ordered by severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Source identifies the component that generated the event.
type Source string

const (
	SourceCLI   Source = "aifo-coder-cli"
	SourceProxy Source = "aifo-coder-proxy"
	SourceVault Source = "vault"
	SourceOPA   Source = "opa"
)

// Event is the common schema for every audit log entry. HashPrev links
// events into a tamper-evident hash chain.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Source    Source         `json:"source"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	HashPrev  string         `json:"hash_prev"`
}

// MarshalJSON implements json.Marshaler with RFC 3339 timestamps.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Alias:     (*Alias)(&e),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = t
	return nil
}

// Validate checks that all required fields are populated.
func (e *Event) Validate() error {
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.UserID == "" {
		return ErrMissingUserID
	}
	if e.Source == "" {
		return ErrMissingSource
	}
	if e.Severity == "" {
		return ErrMissingSeverity
	}
	return nil
}
