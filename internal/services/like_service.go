package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/notifications"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// ToggleLikeResult reports the state after a toggle.
type ToggleLikeResult struct {
	PostID     string `json:"postId"`
	Liked      bool   `json:"liked"`
	LikesCount int64  `json:"likesCount"`
}

// LikeService toggles likes and keeps posts.likes_count in step using single
// statement increments so concurrent toggles never lose updates.
type LikeService struct {
	db       *gorm.DB
	notifier Notifier
}

// NewLikeService constructs a LikeService. notifier may be nil.
func NewLikeService(db *gorm.DB, notifier Notifier) (*LikeService, error) {
	if db == nil {
		return nil, errors.New("like service: db is required")
	}
	return &LikeService{db: db, notifier: notifierOrNop(notifier)}, nil
}

// Toggle likes postID for userID, or removes the like when one exists. The post
// author is notified of new likes after the transaction commits.
func (s *LikeService) Toggle(ctx context.Context, userID, postID string) (*ToggleLikeResult, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	var (
		post   models.Post
		result = &ToggleLikeResult{PostID: postID}
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "author_id").First(&post, "id = ?", postID).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NewNotFound("Post")
			}
			return fmt.Errorf("like service: load post: %w", err)
		}

		removed := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.Like{})
		if removed.Error != nil {
			return fmt.Errorf("like service: remove like: %w", removed.Error)
		}

		delta := -1
		if removed.RowsAffected == 0 {
			if err := tx.Create(&models.Like{PostID: postID, UserID: userID}).Error; err != nil {
				if database.IsUniqueViolation(err) {
					return apperrors.ErrConflict.WithMessage("Like is being updated, retry")
				}
				return fmt.Errorf("like service: create like: %w", err)
			}
			delta = 1
			result.Liked = true
		}

		if err := tx.Model(&models.Post{}).
			Where("id = ?", postID).
			UpdateColumn("likes_count", gorm.Expr("likes_count + ?", delta)).Error; err != nil {
			return fmt.Errorf("like service: update likes count: %w", err)
		}

		return tx.Model(&models.Post{}).
			Select("likes_count").
			Where("id = ?", postID).
			Scan(&result.LikesCount).Error
	})
	if err != nil {
		return nil, err
	}

	if result.Liked {
		s.notifier.Notify(ctx, userID, []string{post.AuthorID}, notifications.KindNewLike)
	}
	return result, nil
}

// HasLiked reports whether userID currently likes postID.
func (s *LikeService) HasLiked(ctx context.Context, userID, postID string) (bool, error) {
	ctx = ensureContext(ctx)
	if userID == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("like service: check like: %w", err)
	}
	return count > 0, nil
}

// ListForPost returns the likes of a post, newest first.
func (s *LikeService) ListForPost(ctx context.Context, postID string, page Page) ([]models.Like, error) {
	ctx = ensureContext(ctx)
	var likes []models.Like
	if err := page.apply(s.db.WithContext(ctx).Where("post_id = ?", postID)).
		Order("created_at DESC").
		Find(&likes).Error; err != nil {
		return nil, fmt.Errorf("like service: list likes: %w", err)
	}
	return likes, nil
}

// LikedPostIDs returns the ids of posts liked by userID.
func (s *LikeService) LikedPostIDs(ctx context.Context, userID string, page Page) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	if err := page.apply(s.db.WithContext(ctx).Model(&models.Like{}).Where("user_id = ?", userID)).
		Order("created_at DESC").
		Pluck("post_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("like service: list liked posts: %w", err)
	}
	return ids, nil
}
