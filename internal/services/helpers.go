package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalise() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	p = p.normalise()
	return db.Limit(p.Limit).Offset(p.Offset)
}

// Notifier publishes notification events after a write committed. Implementations
// never return errors; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, actorID string, recipients []string, kind string) int
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, []string, string) int { return 0 }

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

// validateInput runs struct validation and reports failures as a bad request.
func validateInput(input any) error {
	if err := validator.ValidateStruct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperrors.NewBadRequest(verrs.Error()).WithInternal(err)
		}
		return apperrors.NewBadRequest(err.Error())
	}
	return nil
}

func requireUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return userID, nil
}

func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func containsString(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, value := range values {
		if strings.TrimSpace(value) == target {
			return true
		}
	}
	return false
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
