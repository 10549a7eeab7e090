package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a storage or validation failure with a dotted operation
// code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "messaging.service.new"
	opCreateMessage = "messaging.create_message"
	opConversation  = "messaging.conversation"
	opListPartners  = "messaging.list_partners"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new message records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for the message store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists chat messages and answers conversation queries.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the message service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create durably records one directed message and returns the stored record.
func (s *Service) Create(ctx context.Context, senderID, recipientID, text string) (Message, error) {
	sender, err := validateUserID(senderID)
	if err != nil {
		return Message{}, newServiceError(opCreateMessage, "invalid_sender", err)
	}
	recipient, err := validateUserID(recipientID)
	if err != nil {
		return Message{}, newServiceError(opCreateMessage, "invalid_recipient", err)
	}
	if sender == recipient {
		return Message{}, newServiceError(opCreateMessage, "self_conversation", ErrSelfConversation)
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, newServiceError(opCreateMessage, "empty_text", ErrEmptyText)
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateMessage, "id_generation_failed", err)
		return Message{}, newServiceError(opCreateMessage, "id_generation_failed", err)
	}

	record := Message{
		MessageID:        messageID,
		SenderID:         sender,
		RecipientID:      recipient,
		Text:             text,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateMessage, "insert_failed", err,
			zap.String("sender_id", sender),
			zap.String("recipient_id", recipient))
		return Message{}, newServiceError(opCreateMessage, "insert_failed", err)
	}
	return record, nil
}

// Conversation returns every message exchanged between the two users in
// either direction, ascending by creation time with insertion order breaking
// ties.
func (s *Service) Conversation(ctx context.Context, userA, userB string) ([]Message, error) {
	first, err := validateUserID(userA)
	if err != nil {
		return nil, newServiceError(opConversation, "invalid_user", err)
	}
	second, err := validateUserID(userB)
	if err != nil {
		return nil, newServiceError(opConversation, "invalid_user", err)
	}

	var records []Message
	if err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			first, second, second, first).
		Order("created_at_s ASC").
		Order("seq ASC").
		Find(&records).Error; err != nil {
		s.logError(opConversation, "query_failed", err,
			zap.String("user_a", first),
			zap.String("user_b", second))
		return nil, newServiceError(opConversation, "query_failed", err)
	}
	return records, nil
}

// Partners returns the distinct set of users the given user has exchanged at
// least one message with.
func (s *Service) Partners(ctx context.Context, userID string) ([]string, error) {
	user, err := validateUserID(userID)
	if err != nil {
		return nil, newServiceError(opListPartners, "invalid_user", err)
	}

	var records []Message
	if err := s.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", user, user).
		Order("seq ASC").
		Find(&records).Error; err != nil {
		s.logError(opListPartners, "query_failed", err, zap.String("user_id", user))
		return nil, newServiceError(opListPartners, "query_failed", err)
	}

	seen := make(map[string]struct{})
	partners := make([]string, 0)
	for _, record := range records {
		other := record.RecipientID
		if other == user {
			other = record.SenderID
		}
		if other == user {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		partners = append(partners, other)
	}
	return partners, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("messaging service error", attrs...)
}
