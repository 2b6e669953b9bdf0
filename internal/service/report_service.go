package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/repository"
)

// ReportService reads back what was recorded about past evaluations.
type ReportService interface {
	ListEvaluations(ctx context.Context, id models.SubmissionIdentity, limit int) (*models.IdentityEvaluationsResponse, error)
}

type reportService struct {
	reportRepo repository.EvaluationRepository
	archive    repository.FeedbackArchive
	logger     zerolog.Logger
}

// NewReportService accepts nil for either store when that backend is disabled.
func NewReportService(
	reportRepo repository.EvaluationRepository,
	archive repository.FeedbackArchive,
	logger zerolog.Logger,
) ReportService {
	return &reportService{
		reportRepo: reportRepo,
		archive:    archive,
		logger:     logger,
	}
}

func (s *reportService) ListEvaluations(ctx context.Context, id models.SubmissionIdentity, limit int) (*models.IdentityEvaluationsResponse, error) {
	if s.reportRepo == nil && s.archive == nil {
		return nil, ErrReportsDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	response := &models.IdentityEvaluationsResponse{
		Identity:    id,
		Reports:     []models.EvaluationReport{},
		ArchiveKeys: []string{},
	}

	if s.reportRepo != nil {
		reports, err := s.reportRepo.ListByIdentity(ctx, id, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list evaluation reports: %w", err)
		}
		response.Reports = append(response.Reports, reports...)
	}

	if s.archive != nil {
		keys, err := s.archive.List(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list archived feedback: %w", err)
		}
		response.ArchiveKeys = append(response.ArchiveKeys, keys...)
	}

	return response, nil
}
