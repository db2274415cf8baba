package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-records/internal/models"
)

// EnrollmentSchema mirrors migrations/0001_create_enrollments.up.sql.
const EnrollmentSchema = `CREATE TABLE IF NOT EXISTS enrollments (
    id UUID PRIMARY KEY,
    first_name TEXT NULL,
    last_name TEXT NULL,
    date_of_birth DATE NULL,
    language TEXT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_enrollments_last_name ON enrollments (last_name);
CREATE INDEX IF NOT EXISTS idx_enrollments_language ON enrollments (LOWER(language));`

const enrollmentColumns = `id, first_name, last_name, date_of_birth, language, created_at, updated_at`

type enrollmentRow struct {
	ID          string         `db:"id"`
	FirstName   sql.NullString `db:"first_name"`
	LastName    sql.NullString `db:"last_name"`
	DateOfBirth sql.NullTime   `db:"date_of_birth"`
	Language    sql.NullString `db:"language"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func newEnrollmentRow(record *models.StoredEnrollment) enrollmentRow {
	row := enrollmentRow{ID: record.ID, CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt}
	e := record.Enrollment
	if v := e.FirstName(); v != nil {
		row.FirstName = sql.NullString{String: *v, Valid: true}
	}
	if v := e.LastName(); v != nil {
		row.LastName = sql.NullString{String: *v, Valid: true}
	}
	if v := e.DateOfBirth(); v != nil {
		row.DateOfBirth = sql.NullTime{Time: *v, Valid: true}
	}
	if v := e.Language(); v != nil {
		row.Language = sql.NullString{String: *v, Valid: true}
	}
	return row
}

func (r enrollmentRow) toModel() models.StoredEnrollment {
	e := models.NewEnrollment()
	if r.FirstName.Valid {
		e.SetFirstName(&r.FirstName.String)
	}
	if r.LastName.Valid {
		e.SetLastName(&r.LastName.String)
	}
	if r.DateOfBirth.Valid {
		e.SetDateOfBirth(&r.DateOfBirth.Time)
	}
	if r.Language.Valid {
		e.SetLanguage(&r.Language.String)
	}
	return models.StoredEnrollment{ID: r.ID, Enrollment: e, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// EnrollmentRepository handles persistence of enrollment records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Migrate creates the enrollments table when missing.
func (r *EnrollmentRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, EnrollmentSchema); err != nil {
		return fmt.Errorf("migrate enrollments: %w", err)
	}
	return nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.StoredEnrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Language != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(language) = LOWER($%d)", len(args)+1))
		args = append(args, filter.Language)
	}
	if filter.LastName != "" {
		conditions = append(conditions, fmt.Sprintf("last_name ILIKE $%d", len(args)+1))
		args = append(args, escapeLike(filter.LastName)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":    "created_at",
		"last_name":     "last_name",
		"date_of_birth": "date_of_birth",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page, size := NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`, enrollmentColumns, clause, orderBy, order, size, offset)

	var rows []enrollmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM enrollments%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	enrollments := make([]models.StoredEnrollment, 0, len(rows))
	for _, row := range rows {
		enrollments = append(enrollments, row.toModel())
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID. sql.ErrNoRows is returned unwrapped.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.StoredEnrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var row enrollmentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	record := row.toModel()
	return &record, nil
}

// Create persists a new enrollment record, assigning its ID and timestamps.
func (r *EnrollmentRepository) Create(ctx context.Context, record *models.StoredEnrollment) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	const query = `INSERT INTO enrollments (id, first_name, last_name, date_of_birth, language, created_at, updated_at)
        VALUES (:id, :first_name, :last_name, :date_of_birth, :language, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, newEnrollmentRow(record)); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Update replaces every field of an existing record.
func (r *EnrollmentRepository) Update(ctx context.Context, record *models.StoredEnrollment) error {
	record.UpdatedAt = time.Now().UTC()
	row := newEnrollmentRow(record)
	const query = `UPDATE enrollments SET first_name = $2, last_name = $3, date_of_birth = $4, language = $5, updated_at = $6 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, row.ID, row.FirstName, row.LastName, row.DateOfBirth, row.Language, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a record by ID.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return requireAffected(res)
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(raw string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(raw)
}
