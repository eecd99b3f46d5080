package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Page
}

// NotificationCount summarises a recipient's notifications.
type NotificationCount struct {
	Total  int64 `json:"total"`
	Unread int64 `json:"unread"`
}

// NotificationService manages stored notifications. Records are created only by
// the bus consumer through Record; recipients can read, mark read and delete them.
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db}, nil
}

// Record stores n. When n carries an event id that was stored before nothing is written
// and false is returned.
func (s *NotificationService) Record(ctx context.Context, n *models.Notification) (bool, error) {
	ctx = ensureContext(ctx)
	if n == nil || strings.TrimSpace(n.UserID) == "" {
		return false, errors.New("notification service: recipient is required")
	}
	if n.Type == "" {
		n.Type = models.SeverityInfo
	}
	n.Read = false

	tx := s.db.WithContext(ctx)
	if n.EventID != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		})
	}

	result := tx.Create(n)
	if result.Error != nil {
		return false, fmt.Errorf("notification service: record notification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]models.Notification, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := input.Page.apply(query).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}
	return rows, nil
}

// Get loads a notification owned by userID.
func (s *NotificationService) Get(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("Notification")
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}
	return &notification, nil
}

// Count returns total and unread counts for userID.
func (s *NotificationService) Count(ctx context.Context, userID string) (NotificationCount, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return NotificationCount{}, err
	}

	var count NotificationCount
	base := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if err := base.Session(&gorm.Session{}).Count(&count.Total).Error; err != nil {
		return NotificationCount{}, fmt.Errorf("notification service: count notifications: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("is_read = ?", false).Count(&count.Unread).Error; err != nil {
		return NotificationCount{}, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// MarkRead sets the read flag of a notification owned by userID. Marking an already
// read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	notification, err := s.Get(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}
	if notification.Read {
		return notification, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", notification.ID, notification.UserID, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error; err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}

	return s.Get(ctx, userID, notificationID)
}

// MarkAllRead marks every unread notification of userID as read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return 0, err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Notification")
	}
	return nil
}

// DeleteForRecipient removes every notification of userID.
func (s *NotificationService) DeleteForRecipient(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return 0, err
	}

	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: delete notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeRead deletes read notifications last updated before cutoff.
func (s *NotificationService) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("is_read = ? AND updated_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: purge read notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
