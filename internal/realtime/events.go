package realtime

// Inbound event names accepted on a live connection.
const (
	EventJoin             = "join"
	EventSendMessage      = "send-message"
	EventSendNotification = "send-notification"
)

// Outbound event names pushed to live connections.
const (
	EventReceiveMessage      = "receive-message"
	EventReceiveNotification = "receive-notification"
	EventError               = "error"
)

// Error codes surfaced to the sender on the error event.
const (
	ErrorCodeInvalidEvent  = "invalid_event"
	ErrorCodeInvalidInput  = "invalid_request"
	ErrorCodeStorageFailed = "storage_failed"
)

// InboundEvent is the envelope for every client-originated event. Fields are
// populated according to the event name.
type InboundEvent struct {
	Event      string `json:"event"`
	UserID     string `json:"user_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Type       string `json:"type,omitempty"`
	PostID     string `json:"post_id,omitempty"`
}

// OutboundEvent is the envelope for every server push.
type OutboundEvent struct {
	Event    string `json:"event"`
	SenderID string `json:"sender_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Type     string `json:"type,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	Code     string `json:"code,omitempty"`
}
