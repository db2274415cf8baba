package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/enrollment-records/internal/models"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
	"github.com/noah-isme/enrollment-records/pkg/export"
)

const exportPageSize = 100

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.StoredEnrollment, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	ResultTTL time.Duration
	Formats   []string
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string              `json:"relative_path"`
	Format       models.ExportFormat `json:"format"`
	Count        int                 `json:"count"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// ExportService renders enrollment listings to files.
type ExportService struct {
	enrollments enrollmentLister
	storage     fileStorage
	csv         csvRenderer
	pdf         pdfRenderer
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         ExportConfig
	now         func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(enrollments enrollmentLister, storage fileStorage, cfg ExportConfig, metrics *MetricsService, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{string(models.ExportFormatCSV), string(models.ExportFormatPDF)}
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		enrollments: enrollments,
		storage:     storage,
		csv:         csv,
		pdf:         pdf,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ParseFormat validates a requested format against the enabled formats.
func (s *ExportService) ParseFormat(raw string) (models.ExportFormat, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	for _, enabled := range s.cfg.Formats {
		if format == strings.ToLower(enabled) {
			switch models.ExportFormat(format) {
			case models.ExportFormatCSV, models.ExportFormatPDF:
				return models.ExportFormat(format), nil
			}
		}
	}
	return "", appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unsupported export format %q", raw))
}

// Export renders every record matching filter in the given format and stores the file.
func (s *ExportService) Export(ctx context.Context, filter models.EnrollmentFilter, format models.ExportFormat) (*ExportResult, error) {
	format, err := s.ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	records, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.render(records, format)
}

// ExportAll renders every enabled format concurrently from a single listing.
func (s *ExportService) ExportAll(ctx context.Context, filter models.EnrollmentFilter) ([]*ExportResult, error) {
	formats := make([]models.ExportFormat, 0, len(s.cfg.Formats))
	for _, raw := range s.cfg.Formats {
		format, err := s.ParseFormat(raw)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	records, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	results := make([]*ExportResult, len(formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, format := range formats {
		i, format := i, format
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := s.render(records, format)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	deleted, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)), zap.Duration("ttl", ttl))
	}
	return deleted, nil
}

func (s *ExportService) collect(ctx context.Context, filter models.EnrollmentFilter) ([]models.StoredEnrollment, error) {
	filter.PageSize = exportPageSize
	var all []models.StoredEnrollment
	for page := 1; ; page++ {
		filter.Page = page
		start := time.Now()
		records, total, err := s.enrollments.List(ctx, filter)
		s.metrics.ObserveDBQuery("export_enrollments", time.Since(start))
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list enrollments for export")
		}
		all = append(all, records...)
		if len(records) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

func (s *ExportService) render(records []models.StoredEnrollment, format models.ExportFormat) (*ExportResult, error) {
	dataset := export.EnrollmentDataset(records)
	generatedAt := s.now()

	var (
		payload []byte
		err     error
	)
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Enrollments %s", generatedAt.Format(models.DateLayout)))
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}

	filename := fmt.Sprintf("enrollments_%s.%s", generatedAt.Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store export")
	}
	s.metrics.RecordExport(format)
	s.logger.Info("export generated",
		zap.String("path", relPath),
		zap.String("format", string(format)),
		zap.Int("count", len(records)),
	)
	return &ExportResult{
		RelativePath: relPath,
		Format:       format,
		Count:        len(records),
		GeneratedAt:  generatedAt,
	}, nil
}
