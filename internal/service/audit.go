package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"go.uber.org/zap"
)

type Repository interface {
	SaveExportRecord(ctx context.Context, record *domain.ExportRecord) error
	GetExportRecordsByReadingID(ctx context.Context, readingID string) ([]*domain.ExportRecord, error)
	GetExportRecordsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExportRecord, error)
	HealthCheck(ctx context.Context) error
}

// AuditService queries the export audit log
type AuditService struct {
	repo   Repository
	logger *zap.Logger
}

func NewAuditService(repo Repository, logger *zap.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

func (s *AuditService) CheckDBConnection(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

// GetExportsByReadingID returns every recorded attempt for a reading
func (s *AuditService) GetExportsByReadingID(ctx context.Context, readingID string) ([]*domain.ExportRecord, error) {
	if strings.TrimSpace(readingID) == "" {
		return nil, domain.NewInvalidRequest("reading uuid is required")
	}

	records, err := s.repo.GetExportRecordsByReadingID(ctx, readingID)
	if err != nil {
		s.logger.Error("[AuditService] Failed to get export records by reading uuid",
			zap.String("reading_uuid", readingID),
			zap.Error(err))
		return nil, err
	}

	return records, nil
}

func (s *AuditService) GetExportsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExportRecord, error) {
	if end.Before(start) {
		return nil, domain.NewInvalidRequest("end time must be after start time")
	}

	records, err := s.repo.GetExportRecordsByTimeRange(ctx, start, end)
	if err != nil {
		s.logger.Error("[AuditService] Failed to get export records by time range",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err))
		return nil, fmt.Errorf("query export records: %w", err)
	}

	return records, nil
}
