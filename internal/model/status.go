package model

import "time"

// Status is the lifecycle state of one work item.
type Status string

// Status constants. IDLE is never stored: it is the absence of a record.
const (
	StatusIdle        Status = "IDLE"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusAuthExpired Status = "AUTH_EXPIRED"
)

// Fixed error details written to the store.
const (
	DetailAuthExpired    = "Authentication Expired"
	DetailNoArtifact     = "No image URL returned from backend."
	DetailInterrupted    = "Generation interrupted before completion."
	DetailAuthMissing    = "Authentication missing. Please connect before generating."
	DetailInvalidTarget  = "Invalid video URL"
	DetailUnknownFailure = "Unknown error."
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusFailed, StatusAuthExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition happens without a new request.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAuthExpired
}

// StatusRecord is the authoritative state of one work item. A new record
// replaces the previous one wholesale on every transition.
type StatusRecord struct {
	Key         string `json:"video_id"`
	Status      Status `json:"status"`
	OperationID string `json:"operation_id,omitempty"`
	ArtifactURL string `json:"image_url,omitempty"`
	ErrorDetail string `json:"error,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// NewRunning creates the record written when a run starts.
func NewRunning(key, operationID string) StatusRecord {
	return StatusRecord{
		Key:         key,
		Status:      StatusRunning,
		OperationID: operationID,
		UpdatedAt:   now(),
	}
}

// NewCompleted creates a COMPLETED record carrying the artifact URL.
func NewCompleted(key, operationID, artifactURL string) StatusRecord {
	return StatusRecord{
		Key:         key,
		Status:      StatusCompleted,
		OperationID: operationID,
		ArtifactURL: artifactURL,
		UpdatedAt:   now(),
	}
}

// NewFailed creates a FAILED record carrying the error detail.
func NewFailed(key, operationID, detail string) StatusRecord {
	if detail == "" {
		detail = DetailUnknownFailure
	}
	return StatusRecord{
		Key:         key,
		Status:      StatusFailed,
		OperationID: operationID,
		ErrorDetail: detail,
		UpdatedAt:   now(),
	}
}

// Idle is the implicit record for a key with nothing stored.
func Idle(key string) StatusRecord {
	return StatusRecord{Key: key, Status: StatusIdle}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
