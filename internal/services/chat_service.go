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

// ErrModeratorCannotLeave is returned when a chat moderator tries to exit their chat.
var ErrModeratorCannotLeave = apperrors.NewBadRequest("Moderator cannot leave the chat, remove it instead")

// SaveChatInput describes a chat and the users invited to it.
type SaveChatInput struct {
	Name        string   `json:"name" validate:"required,notblank,max=100"`
	Description string   `json:"description" validate:"max=2000"`
	Members     []string `json:"members" validate:"max=200"`
}

// ChatFilter narrows chat listings.
type ChatFilter struct {
	Search string
	Page
}

// ChatService manages group chats and their membership. New invitees are notified
// after the membership change commits.
type ChatService struct {
	db       *gorm.DB
	notifier Notifier
}

// NewChatService constructs a ChatService. notifier may be nil.
func NewChatService(db *gorm.DB, notifier Notifier) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	return &ChatService{db: db, notifier: notifierOrNop(notifier)}, nil
}

// Save creates a chat when id is empty, otherwise updates a chat moderated by userID.
// The member list replaces the current invitations; accepted members missing from it
// are removed.
func (s *ChatService) Save(ctx context.Context, userID, id string, input SaveChatInput) (*models.Chat, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Members = normaliseIDs(input.Members)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var (
		chat    *models.Chat
		invited []string
	)
	if strings.TrimSpace(id) == "" {
		chat, invited, err = s.create(ctx, userID, input)
	} else {
		chat, invited, err = s.update(ctx, userID, strings.TrimSpace(id), input)
	}
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, userID, invited, notifications.KindNewChat)
	return chat, nil
}

func (s *ChatService) create(ctx context.Context, userID string, input SaveChatInput) (*models.Chat, []string, error) {
	chat := &models.Chat{
		Name:        input.Name,
		Description: input.Description,
		ModeratorID: userID,
	}

	var invited []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(chat).Error; err != nil {
			return fmt.Errorf("chat service: create chat: %w", err)
		}

		members := []models.ChatMember{{ChatID: chat.ID, UserID: userID, HasRead: true}}
		for _, memberID := range input.Members {
			if memberID == userID {
				continue
			}
			members = append(members, models.ChatMember{ChatID: chat.ID, UserID: memberID, HasRead: true, Invited: true})
			invited = append(invited, memberID)
		}
		if err := tx.Create(&members).Error; err != nil {
			return fmt.Errorf("chat service: add members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return chat, invited, nil
}

func (s *ChatService) update(ctx context.Context, userID, id string, input SaveChatInput) (*models.Chat, []string, error) {
	var (
		chat    models.Chat
		invited []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND moderator_id = ?", id, userID).First(&chat).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NewNotFound("Chat")
			}
			return fmt.Errorf("chat service: load chat: %w", err)
		}

		if err := tx.Model(&chat).Updates(map[string]any{
			"name":        input.Name,
			"description": input.Description,
		}).Error; err != nil {
			return fmt.Errorf("chat service: update chat: %w", err)
		}

		var existing []models.ChatMember
		if err := tx.Where("chat_id = ?", id).Find(&existing).Error; err != nil {
			return fmt.Errorf("chat service: load members: %w", err)
		}

		current := make(map[string]struct{}, len(existing))
		var stale []string
		for _, member := range existing {
			current[member.UserID] = struct{}{}
			if member.UserID != userID && !containsString(input.Members, member.UserID) {
				stale = append(stale, member.UserID)
			}
		}
		if len(stale) > 0 {
			if err := tx.Where("chat_id = ? AND user_id IN ?", id, stale).Delete(&models.ChatMember{}).Error; err != nil {
				return fmt.Errorf("chat service: remove members: %w", err)
			}
		}

		var added []models.ChatMember
		for _, memberID := range input.Members {
			if _, ok := current[memberID]; ok || memberID == userID {
				continue
			}
			added = append(added, models.ChatMember{ChatID: id, UserID: memberID, HasRead: true, Invited: true})
			invited = append(invited, memberID)
		}
		if len(added) > 0 {
			if err := tx.Create(&added).Error; err != nil {
				return fmt.Errorf("chat service: invite members: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, invited, nil
}

// Get loads a chat by id.
func (s *ChatService) Get(ctx context.Context, id string) (*models.Chat, error) {
	chat, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, apperrors.NewNotFound("Chat")
	}
	return chat, nil
}

// FindByID returns nil without error when the chat does not exist.
func (s *ChatService) FindByID(ctx context.Context, id string) (*models.Chat, error) {
	ctx = ensureContext(ctx)
	var chat models.Chat
	if err := s.db.WithContext(ctx).First(&chat, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chat service: load chat: %w", err)
	}
	return &chat, nil
}

// GetForMember loads a chat visible to userID as a member or invitee.
func (s *ChatService) GetForMember(ctx context.Context, userID, id string) (*models.Chat, error) {
	ctx = ensureContext(ctx)
	if _, err := s.membership(ctx, s.db, userID, id, true); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// MyChats returns the chats userID belongs to or is invited to.
func (s *ChatService) MyChats(ctx context.Context, userID string, filter ChatFilter) ([]models.Chat, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	query := s.filtered(ctx, filter).
		Where("id IN (?)", s.db.Model(&models.ChatMember{}).Select("chat_id").Where("user_id = ?", userID))

	var chats []models.Chat
	if err := filter.Page.apply(query).Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat service: list chats: %w", err)
	}
	return chats, nil
}

// List returns all chats. Callers must have checked admin access.
func (s *ChatService) List(ctx context.Context, filter ChatFilter) ([]models.Chat, error) {
	ctx = ensureContext(ctx)
	var chats []models.Chat
	if err := filter.Page.apply(s.filtered(ctx, filter)).Order("created_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat service: list chats: %w", err)
	}
	return chats, nil
}

// Count returns the number of chats matching filter.
func (s *ChatService) Count(ctx context.Context, filter ChatFilter) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("chat service: count chats: %w", err)
	}
	return total, nil
}

// Members returns the membership rows of a chat, moderator first.
func (s *ChatService) Members(ctx context.Context, chatID string) ([]models.ChatMember, error) {
	ctx = ensureContext(ctx)
	var members []models.ChatMember
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("invited ASC, created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("chat service: list members: %w", err)
	}
	return members, nil
}

// Membership returns the caller's membership row, or nil when they have none.
func (s *ChatService) Membership(ctx context.Context, userID, chatID string) (*models.ChatMember, error) {
	ctx = ensureContext(ctx)
	member, err := s.membership(ctx, s.db, userID, chatID, true)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return member, err
}

// ManageInvitation accepts or declines an invitation to chatID.
func (s *ChatService) ManageInvitation(ctx context.Context, userID, chatID string, accept bool) (*models.Chat, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := tx.Where("chat_id = ? AND user_id = ? AND invited = ?", chatID, userID, true)
		var result *gorm.DB
		if accept {
			result = scope.Model(&models.ChatMember{}).Updates(map[string]any{
				"invited":    false,
				"has_read":   false,
				"updated_at": time.Now().UTC(),
			})
		} else {
			result = scope.Delete(&models.ChatMember{})
		}
		if result.Error != nil {
			return fmt.Errorf("chat service: manage invitation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.NewNotFound("Invitation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, chatID)
}

// Exit removes userID from a chat they joined.
func (s *ChatService) Exit(ctx context.Context, userID, chatID string) error {
	ctx = ensureContext(ctx)
	member, err := s.membership(ctx, s.db, userID, chatID, false)
	if err != nil {
		return err
	}

	chat, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.ModeratorID == member.UserID {
		return ErrModeratorCannotLeave
	}

	if err := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, member.UserID).
		Delete(&models.ChatMember{}).Error; err != nil {
		return fmt.Errorf("chat service: exit chat: %w", err)
	}
	return nil
}

// Remove deletes a chat moderated by userID together with its members and messages.
func (s *ChatService) Remove(ctx context.Context, userID, chatID string) error {
	userID, err := requireUserID(userID)
	if err != nil {
		return err
	}
	return s.remove(ensureContext(ctx), chatID, userID)
}

// AdminRemove deletes any chat. Callers must have checked admin access.
func (s *ChatService) AdminRemove(ctx context.Context, chatID string) error {
	return s.remove(ensureContext(ctx), chatID, "")
}

func (s *ChatService) remove(ctx context.Context, chatID, moderatorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", chatID)
		if moderatorID != "" {
			query = query.Where("moderator_id = ?", moderatorID)
		}
		result := query.Delete(&models.Chat{})
		if result.Error != nil {
			return fmt.Errorf("chat service: delete chat: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.NewNotFound("Chat")
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatMember{}).Error; err != nil {
			return fmt.Errorf("chat service: delete members: %w", err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("chat service: delete messages: %w", err)
		}
		return nil
	})
}

// membership loads the caller's row in chatID using db, which may be a transaction.
// Invitees only count when includeInvited is set.
func (s *ChatService) membership(ctx context.Context, db *gorm.DB, userID, chatID string, includeInvited bool) (*models.ChatMember, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID)
	if !includeInvited {
		query = query.Where("invited = ?", false)
	}

	var member models.ChatMember
	if err := query.First(&member).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("Chat")
		}
		return nil, fmt.Errorf("chat service: load membership: %w", err)
	}
	return &member, nil
}

func (s *ChatService) filtered(ctx context.Context, filter ChatFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Chat{})
	if strings.TrimSpace(filter.Search) != "" {
		query = query.Where("LOWER(name) LIKE ?", likePattern(filter.Search))
	}
	return query
}
