package models

// Report entity kinds.
const (
	ReportEntityPost    = "post"
	ReportEntityMessage = "message"
)

// Report flags a post or message for moderator review.
type Report struct {
	BaseModel

	Entity      string  `gorm:"type:varchar(16);not null;index" json:"entity"`
	EntityID    string  `gorm:"type:varchar(36);not null;index" json:"entityId"`
	Reason      string  `gorm:"type:varchar(255);not null" json:"reason"`
	Description string  `gorm:"type:text" json:"description"`
	UserID      string  `gorm:"type:varchar(36);index;not null" json:"userId"`
	ResolvedBy  *string `gorm:"type:varchar(36)" json:"resolvedBy"`
}
