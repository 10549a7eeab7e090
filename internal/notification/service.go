package notification

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
	opServiceNew  = "notification.service.new"
	opDispatch    = "notification.dispatch"
	opList        = "notification.list"
	opUnreadCount = "notification.unread_count"
	opMarkRead    = "notification.mark_read"
	opMarkAllRead = "notification.mark_all_read"
	opDelete      = "notification.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new notification records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns notification records and enforces the unread dedup invariant.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
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

// DispatchOutcome reports whether a record was created. Created is false when
// an unread notification for the same tuple already existed; that is a
// successful no-op, not an error, and callers must not push a live event for
// it.
type DispatchOutcome struct {
	Created      bool
	Notification Notification
}

// Dispatch atomically creates a notification unless an unread one already
// exists for the (recipient, sender, type, post) tuple. The check and create
// run in one transaction and the partial unique index backstops concurrent
// dispatchers: the loser's insert surfaces as a duplicate outcome. Dispatch
// performs no retry; retry policy belongs to the caller. Self-notification
// suppression is also the caller's concern.
func (s *Service) Dispatch(ctx context.Context, recipientID, senderID string, kind Type, postID string) (DispatchOutcome, error) {
	recipient, err := validateUserID(recipientID)
	if err != nil {
		return DispatchOutcome{}, newServiceError(opDispatch, "invalid_recipient", err)
	}
	sender, err := validateUserID(senderID)
	if err != nil {
		return DispatchOutcome{}, newServiceError(opDispatch, "invalid_sender", err)
	}
	if _, err := ParseType(string(kind)); err != nil {
		return DispatchOutcome{}, newServiceError(opDispatch, "invalid_type", err)
	}
	post := strings.TrimSpace(postID)

	var outcome DispatchOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Notification
		err := tx.
			Where("recipient_id = ? AND sender_id = ? AND type = ? AND post_id = ? AND is_read = ?",
				recipient, sender, kind, post, false).
			Take(&existing).Error
		if err == nil {
			outcome = DispatchOutcome{Created: false, Notification: existing}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDispatch, "lookup_failed", err)
		}

		notificationID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opDispatch, "id_generation_failed", err)
		}
		record := Notification{
			NotificationID:   notificationID,
			RecipientID:      recipient,
			SenderID:         sender,
			Type:             kind,
			PostID:           post,
			IsRead:           false,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				// A concurrent dispatcher won the race; treat the loss as a
				// successful duplicate.
				outcome = DispatchOutcome{Created: false}
				return nil
			}
			return newServiceError(opDispatch, "insert_failed", err)
		}
		outcome = DispatchOutcome{Created: true, Notification: record}
		return nil
	})
	if txErr != nil {
		s.logError(opDispatch, "transaction_failed", txErr,
			zap.String("recipient_id", recipient),
			zap.String("sender_id", sender),
			zap.String("type", string(kind)))
		return DispatchOutcome{}, txErr
	}
	return outcome, nil
}

// FindUnread returns the unread notification for the dedup tuple, if any.
func (s *Service) FindUnread(ctx context.Context, recipientID, senderID string, kind Type, postID string) (*Notification, error) {
	var record Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ? AND sender_id = ? AND type = ? AND post_id = ? AND is_read = ?",
			recipientID, senderID, kind, strings.TrimSpace(postID), false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opList, "unread_lookup_failed", err)
		return nil, newServiceError(opList, "unread_lookup_failed", err)
	}
	return &record, nil
}

// ListForRecipient returns the recipient's notifications, newest first.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string) ([]Notification, error) {
	recipient, err := validateUserID(recipientID)
	if err != nil {
		return nil, newServiceError(opList, "invalid_recipient", err)
	}
	var records []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipient).
		Order("created_at_s DESC").
		Order("seq DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipient))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// UnreadCount returns how many unread notifications the recipient has.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	recipient, err := validateUserID(recipientID)
	if err != nil {
		return 0, newServiceError(opUnreadCount, "invalid_recipient", err)
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipient, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("recipient_id", recipient))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// MarkRead flips the notification to read. Marking an already-read record is
// idempotent; an unknown identifier reports ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, notificationID string) (Notification, error) {
	var record Notification
	err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, newServiceError(opMarkRead, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opMarkRead, "lookup_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, newServiceError(opMarkRead, "lookup_failed", err)
	}
	if record.IsRead {
		return record, nil
	}
	if err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("notification_id = ?", notificationID).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, newServiceError(opMarkRead, "update_failed", err)
	}
	record.IsRead = true
	return record, nil
}

// MarkAllRead flips every unread notification for the recipient to read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) error {
	recipient, err := validateUserID(recipientID)
	if err != nil {
		return newServiceError(opMarkAllRead, "invalid_recipient", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipient, false).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkAllRead, "update_failed", err, zap.String("recipient_id", recipient))
		return newServiceError(opMarkAllRead, "update_failed", err)
	}
	return nil
}

// Delete removes the notification. An unknown identifier reports ErrNotFound.
func (s *Service) Delete(ctx context.Context, notificationID string) error {
	result := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Delete(&Notification{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("notification_id", notificationID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
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
	s.logger.Error("notification service error", attrs...)
}
