package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// CreateReportInput flags a post or message.
type CreateReportInput struct {
	Entity      string `json:"entity" validate:"required,oneof=post message"`
	EntityID    string `json:"entityId" validate:"required"`
	Reason      string `json:"reason" validate:"required,notblank,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	Entity   string
	Resolved *bool
	Page
}

// ReportService stores moderation reports.
type ReportService struct {
	db *gorm.DB
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB) (*ReportService, error) {
	if db == nil {
		return nil, errors.New("report service: db is required")
	}
	return &ReportService{db: db}, nil
}

// Create files a report from userID. The reported entity lives in another service
// and is not checked here.
func (s *ReportService) Create(ctx context.Context, userID string, input CreateReportInput) (*models.Report, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	input.Entity = strings.ToLower(strings.TrimSpace(input.Entity))
	input.EntityID = strings.TrimSpace(input.EntityID)
	input.Reason = strings.TrimSpace(input.Reason)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	report := &models.Report{
		Entity:      input.Entity,
		EntityID:    input.EntityID,
		Reason:      input.Reason,
		Description: input.Description,
		UserID:      userID,
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("report service: create report: %w", err)
	}
	return report, nil
}

// Get loads a report by id.
func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	ctx = ensureContext(ctx)
	var report models.Report
	if err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("Report")
		}
		return nil, fmt.Errorf("report service: load report: %w", err)
	}
	return &report, nil
}

// List returns reports, newest first.
func (s *ReportService) List(ctx context.Context, filter ReportFilter) ([]models.Report, error) {
	ctx = ensureContext(ctx)
	var reports []models.Report
	if err := filter.Page.apply(s.filtered(ctx, filter)).Order("created_at DESC").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("report service: list reports: %w", err)
	}
	return reports, nil
}

// Count returns the number of reports matching filter.
func (s *ReportService) Count(ctx context.Context, filter ReportFilter) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("report service: count reports: %w", err)
	}
	return total, nil
}

// Resolve marks a report as handled by adminID.
func (s *ReportService) Resolve(ctx context.Context, adminID, id string) (*models.Report, error) {
	ctx = ensureContext(ctx)
	adminID, err := requireUserID(adminID)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("id = ? AND resolved_by IS NULL", id).
		Update("resolved_by", adminID)
	if result.Error != nil {
		return nil, fmt.Errorf("report service: resolve report: %w", result.Error)
	}
	return s.Get(ctx, id)
}

// Delete removes a report.
func (s *ReportService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).Delete(&models.Report{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("report service: delete report: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("Report")
	}
	return nil
}

func (s *ReportService) filtered(ctx context.Context, filter ReportFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Report{})
	if entity := strings.TrimSpace(filter.Entity); entity != "" {
		query = query.Where("entity = ?", entity)
	}
	if filter.Resolved != nil {
		if *filter.Resolved {
			query = query.Where("resolved_by IS NOT NULL")
		} else {
			query = query.Where("resolved_by IS NULL")
		}
	}
	return query
}
