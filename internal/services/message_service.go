package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/notifications"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// SendMessageInput addresses a message to a chat or to a single receiver.
type SendMessageInput struct {
	ChatID     string `json:"chatId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content" validate:"required,notblank,max=5000"`
}

// MessageFilter narrows admin message listings.
type MessageFilter struct {
	ChatID   string
	SenderID string
	Page
}

// MessageService stores chat and direct messages. Posting to a chat clears the
// hasRead flag of every other accepted member and notifies them once committed.
type MessageService struct {
	db       *gorm.DB
	chats    *ChatService
	notifier Notifier
}

// NewMessageService constructs a MessageService. notifier may be nil.
func NewMessageService(db *gorm.DB, chats *ChatService, notifier Notifier) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if chats == nil {
		return nil, errors.New("message service: chat service is required")
	}
	return &MessageService{db: db, chats: chats, notifier: notifierOrNop(notifier)}, nil
}

// Send stores a message from senderID.
func (s *MessageService) Send(ctx context.Context, senderID string, input SendMessageInput) (*models.Message, error) {
	ctx = ensureContext(ctx)
	senderID, err := requireUserID(senderID)
	if err != nil {
		return nil, err
	}

	input.ChatID = strings.TrimSpace(input.ChatID)
	input.ReceiverID = strings.TrimSpace(input.ReceiverID)
	input.Content = strings.TrimSpace(input.Content)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	switch {
	case input.ChatID != "" && input.ReceiverID != "":
		return nil, apperrors.NewBadRequest("A message targets either chatId or receiverId, not both")
	case input.ChatID != "":
		return s.sendToChat(ctx, senderID, input)
	case input.ReceiverID != "":
		return s.sendDirect(ctx, senderID, input)
	default:
		return nil, apperrors.NewBadRequest("Either chatId or receiverId is required")
	}
}

func (s *MessageService) sendToChat(ctx context.Context, senderID string, input SendMessageInput) (*models.Message, error) {
	message := &models.Message{
		SenderID: senderID,
		ChatID:   &input.ChatID,
		Content:  input.Content,
	}

	var recipients []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.chats.membership(ctx, tx, senderID, input.ChatID, false); err != nil {
			return err
		}
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("message service: create message: %w", err)
		}

		others := tx.Model(&models.ChatMember{}).
			Where("chat_id = ? AND user_id <> ? AND invited = ?", input.ChatID, senderID, false)
		if err := others.Session(&gorm.Session{}).
			Updates(map[string]any{"has_read": false, "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("message service: mark unread: %w", err)
		}
		if err := others.Session(&gorm.Session{}).Pluck("user_id", &recipients).Error; err != nil {
			return fmt.Errorf("message service: load recipients: %w", err)
		}

		return tx.Model(&models.Chat{}).Where("id = ?", input.ChatID).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, senderID, recipients, notifications.KindNewMessage)
	return message, nil
}

func (s *MessageService) sendDirect(ctx context.Context, senderID string, input SendMessageInput) (*models.Message, error) {
	if input.ReceiverID == senderID {
		return nil, apperrors.NewBadRequest("Cannot send a message to yourself")
	}
	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: &input.ReceiverID,
		Content:    input.Content,
	}
	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	s.notifier.Notify(ctx, senderID, []string{input.ReceiverID}, notifications.KindNewMessage)
	return message, nil
}

// ChatMessages returns the history of a chat for an accepted member, oldest first,
// and marks the chat as read for that member.
func (s *MessageService) ChatMessages(ctx context.Context, userID, chatID string, page Page) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	member, err := s.chats.membership(ctx, s.db, userID, chatID, false)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := page.apply(s.db.WithContext(ctx).Where("chat_id = ?", chatID)).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("message service: list chat messages: %w", err)
	}

	if !member.HasRead {
		if err := s.db.WithContext(ctx).
			Model(&models.ChatMember{}).
			Where("chat_id = ? AND user_id = ?", chatID, member.UserID).
			Update("has_read", true).Error; err != nil {
			return nil, fmt.Errorf("message service: mark chat read: %w", err)
		}
	}
	return messages, nil
}

// Conversation returns direct messages exchanged between userID and otherID.
func (s *MessageService) Conversation(ctx context.Context, userID, otherID string, page Page) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	query := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, otherID, otherID, userID)
	if err := page.apply(query).Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("message service: list conversation: %w", err)
	}
	return messages, nil
}

// Inbox returns direct messages received by userID, newest first.
func (s *MessageService) Inbox(ctx context.Context, userID string, unreadOnly bool, page Page) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("receiver_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var messages []models.Message
	if err := page.apply(query).Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("message service: list inbox: %w", err)
	}
	return messages, nil
}

// Get loads a message visible to userID: its sender, its receiver or an accepted
// member of its chat.
func (s *MessageService) Get(ctx context.Context, userID, id string) (*models.Message, error) {
	ctx = ensureContext(ctx)
	message, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, apperrors.NewNotFound("Message")
	}

	switch {
	case message.SenderID == userID:
	case message.ReceiverID != nil && *message.ReceiverID == userID:
	case message.ChatID != nil:
		if _, err := s.chats.membership(ctx, s.db, userID, *message.ChatID, false); err != nil {
			return nil, apperrors.NewNotFound("Message")
		}
	default:
		return nil, apperrors.NewNotFound("Message")
	}
	return message, nil
}

// FindByID returns nil without error when the message does not exist.
func (s *MessageService) FindByID(ctx context.Context, id string) (*models.Message, error) {
	ctx = ensureContext(ctx)
	var message models.Message
	if err := s.db.WithContext(ctx).First(&message, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	return &message, nil
}

// MarkAsRead flags a direct message received by userID as read.
func (s *MessageService) MarkAsRead(ctx context.Context, userID, id string) (*models.Message, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	var message models.Message
	if err := s.db.WithContext(ctx).Where("id = ? AND receiver_id = ?", id, userID).First(&message).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("Message")
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	if message.IsRead {
		return &message, nil
	}

	if err := s.db.WithContext(ctx).Model(&message).Update("is_read", true).Error; err != nil {
		return nil, fmt.Errorf("message service: mark read: %w", err)
	}
	message.IsRead = true
	return &message, nil
}

// Remove deletes a message sent by userID.
func (s *MessageService) Remove(ctx context.Context, userID, id string) error {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return err
	}
	return s.remove(ctx, id, userID)
}

// AdminRemove deletes any message. Callers must have checked admin access.
func (s *MessageService) AdminRemove(ctx context.Context, id string) error {
	return s.remove(ensureContext(ctx), id, "")
}

func (s *MessageService) remove(ctx context.Context, id, senderID string) error {
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if senderID != "" {
		query = query.Where("sender_id = ?", senderID)
	}
	result := query.Delete(&models.Message{})
	if result.Error != nil {
		return fmt.Errorf("message service: delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Message")
	}
	return nil
}

// List returns messages for moderation. Callers must have checked admin access.
func (s *MessageService) List(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	var messages []models.Message
	if err := filter.Page.apply(s.filtered(ctx, filter)).Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("message service: list messages: %w", err)
	}
	return messages, nil
}

// Count returns the number of messages matching filter.
func (s *MessageService) Count(ctx context.Context, filter MessageFilter) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("message service: count messages: %w", err)
	}
	return total, nil
}

func (s *MessageService) filtered(ctx context.Context, filter MessageFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Message{})
	if chatID := strings.TrimSpace(filter.ChatID); chatID != "" {
		query = query.Where("chat_id = ?", chatID)
	}
	if senderID := strings.TrimSpace(filter.SenderID); senderID != "" {
		query = query.Where("sender_id = ?", senderID)
	}
	return query
}
