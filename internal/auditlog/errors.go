package auditlog

import "errors"

// Validation errors for Event fields.
var (
	ErrMissingTimestamp = errors.New("auditlog: timestamp is required")
	ErrMissingEventType = errors.New("auditlog: event_type is required")
	ErrMissingSessionID = errors.New("auditlog: session_id is required")
	ErrMissingUserID    = errors.New("auditlog: user_id is required")
	ErrMissingSource    = errors.New("auditlog: source is required")
	ErrMissingSeverity  = errors.New("auditlog: severity is required")
)

// Hash chain errors.
var (
	ErrChainBroken  = errors.New("auditlog: hash chain is broken (tamper detected)")
	ErrEmptyEvent   = errors.New("auditlog: cannot hash empty event data")
	ErrLoggerClosed = errors.New("auditlog: logger is closed")
)
