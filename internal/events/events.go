// Package events defines the event structures for the patient.alert.raised
// and dispatch.* subjects.
package events

import (
	"encoding/json"
	"strings"
)

// Severity values recognized on inbound alerts. Anything else normalizes
// to SeverityUnknown, which is still dispatchable.
const (
	SeverityLow     = "low"
	SeverityMedium  = "medium"
	SeverityHigh    = "high"
	SeverityUnknown = "unknown"
)

// PatientAlert represents an alert event from the patient.alert.raised subject.
type PatientAlert struct {
	AlertID   string `json:"alert_id"`
	PatientID string `json:"patient_id"`
	Severity  string `json:"severity,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DispatchCreated is the wire event published to dispatch.created.
// It is a snapshot of the dispatch at creation time, including the
// originating alert payload.
type DispatchCreated struct {
	DispatchID string          `json:"dispatch_id"`
	PatientID  string          `json:"patient_id"`
	AlertID    string          `json:"alert_id"`
	Severity   string          `json:"severity"`
	Timestamp  string          `json:"timestamp"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
}

// DispatchAssigned is the wire event published to dispatch.assigned.
type DispatchAssigned struct {
	DispatchID  string `json:"dispatch_id"`
	AmbulanceID string `json:"ambulance_id"`
	HospitalID  string `json:"hospital_id"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
}

// NormalizeSeverity lowercases and trims a severity value. Absent or
// unrecognized values normalize to SeverityUnknown; only SeverityLow is
// filtered out by the pipeline.
func NormalizeSeverity(severity string) string {
	switch s := strings.ToLower(strings.TrimSpace(severity)); s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s
	default:
		return SeverityUnknown
	}
}
