package models

import "time"

// StoredEnrollment is an Enrollment persisted under a generated identifier.
type StoredEnrollment struct {
	ID         string      `json:"id"`
	Enrollment *Enrollment `json:"enrollment"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with s.
func (s *StoredEnrollment) Clone() *StoredEnrollment {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Enrollment = s.Enrollment.Clone()
	return &clone
}

// EnrollmentFilter provides filters for listing stored enrollments.
type EnrollmentFilter struct {
	Language  string
	LastName  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// ExportFormat identifies a rendered export type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// MetricsSnapshot summarises process metrics. The CLI logs it when a command exits.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	Operations               uint64    `json:"operations"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Exports                  uint64    `json:"exports"`
	GeneratedAt              time.Time `json:"generated_at"`
}
