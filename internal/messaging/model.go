package messaging

import (
	"errors"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates a missing or oversized user identifier.
	ErrInvalidUserID = errors.New("messaging: invalid user id")
	// ErrEmptyText indicates a message body with no content.
	ErrEmptyText = errors.New("messaging: empty message text")
	// ErrSelfConversation indicates sender and recipient are the same user.
	ErrSelfConversation = errors.New("messaging: sender and recipient are identical")
)

// Message is the durable record of one directed chat message. Records are
// immutable once created; a conversation is derived from the unordered
// (sender, recipient) pair, never stored.
type Message struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	MessageID        string `gorm:"column:message_id;size:190;not null;uniqueIndex:idx_messages_message_id"`
	SenderID         string `gorm:"column:sender_id;size:190;not null;index:idx_messages_sender"`
	RecipientID      string `gorm:"column:recipient_id;size:190;not null;index:idx_messages_recipient"`
	Text             string `gorm:"column:text;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

func validateUserID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", ErrInvalidUserID
	}
	return trimmed, nil
}
