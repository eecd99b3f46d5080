package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
)

// UserModels are the collections owned by the users service.
var UserModels = []any{&models.User{}}

// PostModels are the collections owned by the posts service.
var PostModels = []any{&models.Post{}, &models.Like{}, &models.Comment{}}

// MessageModels are the collections owned by the messages service.
var MessageModels = []any{&models.Chat{}, &models.ChatMember{}, &models.Message{}}

// NotificationModels are the collections owned by the notifications service.
var NotificationModels = []any{&models.Notification{}}

// ReportModels are the collections owned by the reports service.
var ReportModels = []any{&models.Report{}}

// AllModels lists every collection in migration order.
func AllModels() []any {
	all := make([]any, 0, 10)
	for _, set := range [][]any{UserModels, PostModels, MessageModels, NotificationModels, ReportModels} {
		all = append(all, set...)
	}
	return all
}

// AutoMigrate creates or updates the database schema for the supplied models, or all of them.
func AutoMigrate(db *gorm.DB, models ...any) error {
	if len(models) == 0 {
		models = AllModels()
	}
	return db.AutoMigrate(models...)
}
