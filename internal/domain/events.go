package domain

import "time"

type EventType string

const (
	EventRecordSubmitted     EventType = "record.submitted"
	EventRecordVerified      EventType = "record.verified"
	EventDisclosureRequested EventType = "disclosure.requested"
	EventDisclosureResolved  EventType = "disclosure.resolved"
	EventDisclosureExpired   EventType = "disclosure.expired"
	EventCallbackRejected    EventType = "disclosure.callback_rejected"
	EventAuthorityRotated    EventType = "authority.rotated"
)

// AllEventTypes lists every event the services emit.
var AllEventTypes = []EventType{
	EventRecordSubmitted,
	EventRecordVerified,
	EventDisclosureRequested,
	EventDisclosureResolved,
	EventDisclosureExpired,
	EventCallbackRejected,
	EventAuthorityRotated,
}

// Event is the audit trail entry published after a state change or a rejected callback.
type Event struct {
	Type      EventType
	RecordID  RecordID
	RequestID RequestID
	Principal Principal
	Score     uint64
	Reason    string
	At        time.Time
}
