package notification

import (
	"errors"
	"fmt"
	"strings"
)

// Type enumerates the supported activity notification kinds.
type Type string

const (
	// TypeLike is emitted when a user likes a post.
	TypeLike Type = "like"
	// TypeComment is emitted when a user comments on a post.
	TypeComment Type = "comment"
	// TypeFollow is emitted when a user follows another user.
	TypeFollow Type = "follow"
	// TypeMention is emitted when a user is mentioned.
	TypeMention Type = "mention"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates a missing or oversized user identifier.
	ErrInvalidUserID = errors.New("notification: invalid user id")
	// ErrInvalidType indicates an unknown notification type.
	ErrInvalidType = errors.New("notification: invalid type")
	// ErrNotFound indicates the referenced notification does not exist.
	ErrNotFound = errors.New("notification: not found")
)

// ParseType validates raw input against the supported notification kinds.
func ParseType(rawInput string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TypeLike:
		return TypeLike, nil
	case TypeComment:
		return TypeComment, nil
	case TypeFollow:
		return TypeFollow, nil
	case TypeMention:
		return TypeMention, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, rawInput)
	}
}

// Notification is the durable record of one directed activity event. At most
// one unread record may exist per (recipient, sender, type, post) tuple; the
// partial unique index idx_notifications_unread_dedup enforces the invariant
// at the storage layer. PostID is the empty string when the event has no post
// reference, so post-less events share one dedup bucket.
type Notification struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	NotificationID   string `gorm:"column:notification_id;size:190;not null;uniqueIndex:idx_notifications_notification_id"`
	RecipientID      string `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient"`
	SenderID         string `gorm:"column:sender_id;size:190;not null"`
	Type             Type   `gorm:"column:type;size:32;not null"`
	PostID           string `gorm:"column:post_id;size:190;not null;default:''"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

func validateUserID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", ErrInvalidUserID
	}
	return trimmed, nil
}
