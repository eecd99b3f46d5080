package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/notifications"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// CreateCommentInput describes a new comment.
type CreateCommentInput struct {
	PostID  string `json:"postId" validate:"required"`
	Content string `json:"content" validate:"required,notblank,max=2000"`
}

// CommentService manages comments and posts.comments_count.
type CommentService struct {
	db       *gorm.DB
	notifier Notifier
}

// NewCommentService constructs a CommentService. notifier may be nil.
func NewCommentService(db *gorm.DB, notifier Notifier) (*CommentService, error) {
	if db == nil {
		return nil, errors.New("comment service: db is required")
	}
	return &CommentService{db: db, notifier: notifierOrNop(notifier)}, nil
}

// Create adds a comment and notifies the post author once committed.
func (s *CommentService) Create(ctx context.Context, userID string, input CreateCommentInput) (*models.Comment, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	input.Content = strings.TrimSpace(input.Content)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var (
		post    models.Post
		comment = &models.Comment{PostID: input.PostID, AuthorID: userID, Content: input.Content}
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "author_id").First(&post, "id = ?", input.PostID).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NewNotFound("Post")
			}
			return fmt.Errorf("comment service: load post: %w", err)
		}
		if err := tx.Create(comment).Error; err != nil {
			return fmt.Errorf("comment service: create comment: %w", err)
		}
		if err := tx.Model(&models.Post{}).
			Where("id = ?", input.PostID).
			UpdateColumn("comments_count", gorm.Expr("comments_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("comment service: update comments count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, userID, []string{post.AuthorID}, notifications.KindNewComment)
	return comment, nil
}

// Get loads a comment by id.
func (s *CommentService) Get(ctx context.Context, id string) (*models.Comment, error) {
	comment, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return nil, apperrors.NewNotFound("Comment")
	}
	return comment, nil
}

// FindByID returns nil without error when the comment does not exist.
func (s *CommentService) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	ctx = ensureContext(ctx)
	var comment models.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("comment service: load comment: %w", err)
	}
	return &comment, nil
}

// ListForPost returns comments oldest first.
func (s *CommentService) ListForPost(ctx context.Context, postID string, page Page) ([]models.Comment, error) {
	ctx = ensureContext(ctx)
	var comments []models.Comment
	if err := page.apply(s.db.WithContext(ctx).Where("post_id = ?", postID)).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("comment service: list comments: %w", err)
	}
	return comments, nil
}

// Delete removes the caller's own comment.
func (s *CommentService) Delete(ctx context.Context, userID, id string) error {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := tx.Where("id = ? AND author_id = ?", id, userID).First(&comment).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NewNotFound("Comment")
			}
			return fmt.Errorf("comment service: load comment: %w", err)
		}
		if err := tx.Delete(&comment).Error; err != nil {
			return fmt.Errorf("comment service: delete comment: %w", err)
		}
		if err := tx.Model(&models.Post{}).
			Where("id = ? AND comments_count > 0", comment.PostID).
			UpdateColumn("comments_count", gorm.Expr("comments_count - ?", 1)).Error; err != nil {
			return fmt.Errorf("comment service: update comments count: %w", err)
		}
		return nil
	})
}
