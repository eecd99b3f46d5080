package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/notifications"
)

type notifyCall struct {
	actorID    string
	recipients []string
	kind       string
}

// recordingNotifier captures Notify calls and applies the same recipient rules
// as the bus publisher.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (r *recordingNotifier) Notify(_ context.Context, actorID string, recipients []string, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	filtered := notifications.Recipients(actorID, recipients)
	r.calls = append(r.calls, notifyCall{actorID: actorID, recipients: filtered, kind: kind})
	return len(filtered)
}

func (r *recordingNotifier) snapshot() []notifyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifyCall(nil), r.calls...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	user := &models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Password:  "hashed",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedPost(t *testing.T, db *gorm.DB, authorID string) *models.Post {
	t.Helper()
	post := &models.Post{Title: "Linear algebra notes", Subject: "math", AuthorID: authorID}
	require.NoError(t, db.Create(post).Error)
	return post
}
