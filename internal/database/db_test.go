package database

import (
	"testing"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestPrepareMigratesAllCollections(t *testing.T) {
	db := openTestDB(t)

	if err := Prepare(db); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	for _, model := range AllModels() {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}
}

func TestPrepareOnlySelectedCollections(t *testing.T) {
	db := openTestDB(t)

	if err := Prepare(db, NotificationModels...); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if !db.Migrator().HasTable(&models.Notification{}) {
		t.Fatal("expected notifications table")
	}
	if db.Migrator().HasTable(&models.Post{}) {
		t.Fatal("did not expect posts table")
	}
}

func TestNotificationEventIDIsUnique(t *testing.T) {
	db := openTestDB(t)
	if err := Prepare(db, NotificationModels...); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	eventID := "evt-1"
	first := models.Notification{UserID: "u1", Message: "NEW_LIKE", Type: models.SeverityInfo, EventID: &eventID}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := models.Notification{UserID: "u1", Message: "NEW_LIKE", Type: models.SeverityInfo, EventID: &eventID}
	if err := db.Create(&second).Error; err == nil {
		t.Fatal("expected duplicate event id to be rejected")
	}

	// events without an id are never deduplicated
	for i := 0; i < 2; i++ {
		n := models.Notification{UserID: "u1", Message: "NEW_LIKE", Type: models.SeverityInfo}
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("create without event id: %v", err)
		}
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}
