package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// SavePostInput describes the editable fields of a post.
type SavePostInput struct {
	Title       string            `json:"title" validate:"required,notblank,max=255"`
	Subject     string            `json:"subject" validate:"max=255"`
	Description string            `json:"description" validate:"max=10000"`
	Tags        []string          `json:"tags" validate:"max=20,dive,max=50"`
	Materials   []models.Material `json:"materials" validate:"max=20,dive"`
}

// PostFilter narrows post listings.
type PostFilter struct {
	Search   string
	Subject  string
	AuthorID string
	Page
}

// PostService manages posts. Counter columns are owned by LikeService and
// CommentService and never written here.
type PostService struct {
	db *gorm.DB
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	return &PostService{db: db}, nil
}

// Save creates a post when id is empty and otherwise updates the caller's own post.
func (s *PostService) Save(ctx context.Context, userID, id string, input SavePostInput) (*models.Post, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Subject = strings.TrimSpace(input.Subject)
	input.Tags = normaliseIDs(input.Tags)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		post := &models.Post{
			Title:       input.Title,
			Subject:     input.Subject,
			Description: input.Description,
			Tags:        datatypes.NewJSONSlice(input.Tags),
			Materials:   datatypes.NewJSONSlice(input.Materials),
			AuthorID:    userID,
		}
		if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
			return nil, fmt.Errorf("post service: create post: %w", err)
		}
		return post, nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND author_id = ?", id, userID).
		Updates(map[string]any{
			"title":       input.Title,
			"subject":     input.Subject,
			"description": input.Description,
			"tags":        datatypes.NewJSONSlice(input.Tags),
			"materials":   datatypes.NewJSONSlice(input.Materials),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("post service: update post: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFound("Post")
	}
	return s.Get(ctx, id)
}

// Get loads a post by id.
func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, apperrors.NewNotFound("Post")
	}
	return post, nil
}

// FindByID returns nil without error when the post does not exist.
func (s *PostService) FindByID(ctx context.Context, id string) (*models.Post, error) {
	ctx = ensureContext(ctx)
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("post service: load post: %w", err)
	}
	return &post, nil
}

// List returns posts, newest first.
func (s *PostService) List(ctx context.Context, filter PostFilter) ([]models.Post, error) {
	ctx = ensureContext(ctx)
	var posts []models.Post
	if err := filter.Page.apply(s.filtered(ctx, filter)).Order("created_at DESC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("post service: list posts: %w", err)
	}
	return posts, nil
}

// Count returns the number of posts matching filter.
func (s *PostService) Count(ctx context.Context, filter PostFilter) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("post service: count posts: %w", err)
	}
	return total, nil
}

// Remove deletes the caller's own post together with its likes and comments.
func (s *PostService) Remove(ctx context.Context, userID, id string) error {
	userID, err := requireUserID(userID)
	if err != nil {
		return err
	}
	return s.remove(ensureContext(ctx), id, userID)
}

// AdminRemove deletes any post. Callers must have checked admin access.
func (s *PostService) AdminRemove(ctx context.Context, id string) error {
	return s.remove(ensureContext(ctx), id, "")
}

// remove deletes a post; an empty authorID skips the ownership check.
func (s *PostService) remove(ctx context.Context, id, authorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", id)
		if authorID != "" {
			query = query.Where("author_id = ?", authorID)
		}
		result := query.Delete(&models.Post{})
		if result.Error != nil {
			return fmt.Errorf("post service: delete post: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.NewNotFound("Post")
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Like{}).Error; err != nil {
			return fmt.Errorf("post service: delete likes: %w", err)
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("post service: delete comments: %w", err)
		}
		return nil
	})
}

func (s *PostService) filtered(ctx context.Context, filter PostFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Post{})
	if authorID := strings.TrimSpace(filter.AuthorID); authorID != "" {
		query = query.Where("author_id = ?", authorID)
	}
	if subject := strings.TrimSpace(filter.Subject); subject != "" {
		query = query.Where("LOWER(subject) = ?", strings.ToLower(subject))
	}
	if strings.TrimSpace(filter.Search) != "" {
		pattern := likePattern(filter.Search)
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	return query
}
