package model

import "time"

// AuditLogEntry is one append-only record of a pipeline invocation.
type AuditLogEntry struct {
	ID               string         `json:"id"`
	Endpoint         string         `json:"endpoint"`
	Method           string         `json:"method"`
	StatusCode       int            `json:"status_code"`
	RequestSnapshot  map[string]any `json:"request_snapshot"`
	ResponseSnapshot map[string]any `json:"response_snapshot"`
	SessionID        string         `json:"session_id,omitempty"`
	UserAgent        string         `json:"user_agent,omitempty"`
	IP               string         `json:"ip,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
