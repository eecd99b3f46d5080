package models

// Severity values accepted for notifications.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// ValidSeverity reports whether value is one of the known severities.
func ValidSeverity(value string) bool {
	switch value {
	case SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess:
		return true
	}
	return false
}

// Notification represents an in-app notification for a user. Read only moves from
// false to true.
type Notification struct {
	BaseModel

	UserID  string `gorm:"type:varchar(36);index;not null" json:"userId"`
	Message string `gorm:"type:text;not null" json:"message"`
	Type    string `gorm:"type:varchar(32);not null;default:'info'" json:"type"`
	Read    bool   `gorm:"column:is_read;not null;default:false;index" json:"read"`

	// EventID is the producer assigned id used to drop redelivered events.
	EventID *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`
}
