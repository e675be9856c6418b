package model

// EventType is the wire name of a push notification.
type EventType string

const (
	// EventUpdate carries a per-item status change.
	EventUpdate EventType = "INFOGRAPHIC_UPDATE"
	// EventAuthExpired is delivered to every surface regardless of item.
	EventAuthExpired EventType = "AUTH_EXPIRED"
	// EventReconcile asks every surface to re-read the store.
	EventReconcile EventType = "RECONCILE"
)

// Event is an ephemeral state-change notification. It is never persisted.
type Event struct {
	Type        EventType `json:"type"`
	Key         string    `json:"video_id,omitempty"`
	Status      Status    `json:"status,omitempty"`
	ArtifactURL string    `json:"image_url,omitempty"`
	ErrorDetail string    `json:"error,omitempty"`
}

// Broadcast reports whether the event goes to every surface.
func (e Event) Broadcast() bool {
	return e.Type == EventAuthExpired || e.Type == EventReconcile
}

// EventFor builds the notification matching a status transition.
func EventFor(key string, status Status, artifactURL, errorDetail string) Event {
	typ := EventUpdate
	if status == StatusAuthExpired {
		typ = EventAuthExpired
	}
	return Event{
		Type:        typ,
		Key:         key,
		Status:      status,
		ArtifactURL: artifactURL,
		ErrorDetail: errorDetail,
	}
}

// RecordEvent builds the notification for a stored record.
func RecordEvent(rec StatusRecord) Event {
	return EventFor(rec.Key, rec.Status, rec.ArtifactURL, rec.ErrorDetail)
}
