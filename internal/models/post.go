package models

import "gorm.io/datatypes"

// Material is a learning resource attached to a post.
type Material struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Post is a piece of shared learning content. LikesCount and CommentsCount are
// maintained with atomic column expressions, never by saving the whole row.
type Post struct {
	BaseModel

	Title         string                       `gorm:"type:varchar(255);not null" json:"title"`
	Subject       string                       `gorm:"type:varchar(255);index" json:"subject"`
	Description   string                       `gorm:"type:text" json:"description"`
	Tags          datatypes.JSONSlice[string]   `json:"tags"`
	Materials     datatypes.JSONSlice[Material] `json:"materials"`
	AuthorID      string                       `gorm:"type:varchar(36);index;not null" json:"authorId"`
	LikesCount    int64                        `gorm:"not null;default:0" json:"likesCount"`
	CommentsCount int64                        `gorm:"not null;default:0" json:"commentsCount"`
}

// Like records one user liking one post.
type Like struct {
	BaseModel

	PostID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_likes_post_user" json:"postId"`
	UserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_likes_post_user;index" json:"userId"`
}

// Comment is a reply on a post.
type Comment struct {
	BaseModel

	PostID   string `gorm:"type:varchar(36);index;not null" json:"postId"`
	AuthorID string `gorm:"type:varchar(36);index;not null" json:"authorId"`
	Content  string `gorm:"type:text;not null" json:"content"`
}
